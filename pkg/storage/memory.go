/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package storage

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/darianrosebrook/agent-agency/internal/errors"
	"github.com/darianrosebrook/agent-agency/pkg/arbitration"
	"github.com/darianrosebrook/agent-agency/pkg/coordinator"
)

// MemoryStore is the default, process-local Store: three maps and an
// append-only audit slice behind one mutex, mirroring pkg/arbitration.Store's own in-memory precedent
// bookkeeping.
type MemoryStore struct {
	mu         sync.RWMutex
	components map[string]coordinator.ComponentDescriptor
	verdicts   map[string]*arbitration.Verdict
	precedents map[string]*arbitration.Precedent
	audit      []AuditRecord
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		components: make(map[string]coordinator.ComponentDescriptor),
		verdicts:   make(map[string]*arbitration.Verdict),
		precedents: make(map[string]*arbitration.Precedent),
	}
}

func (m *MemoryStore) SaveComponent(_ context.Context, c coordinator.ComponentDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[c.ID] = c
	return nil
}

func (m *MemoryStore) GetComponent(_ context.Context, id string) (coordinator.ComponentDescriptor, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.components[id]
	return c, ok, nil
}

func (m *MemoryStore) ListComponents(_ context.Context) ([]coordinator.ComponentDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]coordinator.ComponentDescriptor, 0, len(m.components))
	for _, c := range m.components {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DeleteComponent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.components, id)
	return nil
}

func (m *MemoryStore) SaveVerdict(_ context.Context, v *arbitration.Verdict) error {
	if v == nil || v.ID == "" {
		return apperrors.Validation("verdict id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verdicts[v.ID] = v
	return nil
}

func (m *MemoryStore) GetVerdict(_ context.Context, id string) (*arbitration.Verdict, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.verdicts[id]
	return v, ok, nil
}

func (m *MemoryStore) ListVerdictsBySession(_ context.Context, sessionID string) ([]*arbitration.Verdict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*arbitration.Verdict
	for _, v := range m.verdicts {
		if v.SessionID == sessionID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func (m *MemoryStore) SavePrecedent(_ context.Context, p *arbitration.Precedent) error {
	if p == nil || p.ID == "" {
		return apperrors.Validation("precedent id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.precedents[p.ID] = p
	return nil
}

func (m *MemoryStore) GetPrecedent(_ context.Context, id string) (*arbitration.Precedent, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.precedents[id]
	return p, ok, nil
}

func (m *MemoryStore) ListPrecedents(_ context.Context) ([]*arbitration.Precedent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*arbitration.Precedent, 0, len(m.precedents))
	for _, p := range m.precedents {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) AppendAudit(_ context.Context, r AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, r)
	return nil
}

func (m *MemoryStore) ListAuditBySubject(_ context.Context, subject string) ([]AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AuditRecord
	for _, r := range m.audit {
		if r.Subject == subject {
			out = append(out, r)
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
