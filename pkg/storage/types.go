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

// Package storage is the pluggable persistence sink for component
// registrations, precedents, verdicts, and audit logs (spec.md §6).
// Every interface here has two bindings: an in-memory one the core
// runs against by default, and a Postgres-backed one for durability.
package storage

import (
	"context"
	"time"

	"github.com/darianrosebrook/agent-agency/pkg/arbitration"
	"github.com/darianrosebrook/agent-agency/pkg/coordinator"
)

// ComponentStore persists coordinator.ComponentDescriptor registrations.
type ComponentStore interface {
	SaveComponent(ctx context.Context, c coordinator.ComponentDescriptor) error
	GetComponent(ctx context.Context, id string) (coordinator.ComponentDescriptor, bool, error)
	ListComponents(ctx context.Context) ([]coordinator.ComponentDescriptor, error)
	DeleteComponent(ctx context.Context, id string) error
}

// VerdictStore persists arbitration.Verdict records.
type VerdictStore interface {
	SaveVerdict(ctx context.Context, v *arbitration.Verdict) error
	GetVerdict(ctx context.Context, id string) (*arbitration.Verdict, bool, error)
	ListVerdictsBySession(ctx context.Context, sessionID string) ([]*arbitration.Verdict, error)
}

// PrecedentStore persists arbitration.Precedent records. It deliberately
// does not expose similarity search — pkg/arbitration.Store already
// owns that in-process, scored against whatever precedents are loaded;
// this interface is the load/save boundary a durable backend sits
// behind.
type PrecedentStore interface {
	SavePrecedent(ctx context.Context, p *arbitration.Precedent) error
	GetPrecedent(ctx context.Context, id string) (*arbitration.Precedent, bool, error)
	ListPrecedents(ctx context.Context) ([]*arbitration.Precedent, error)
}

// AuditRecord is one append-only row in the audit log, spanning every
// subsystem that records an auditable action (verdicts, recoveries,
// waivers).
type AuditRecord struct {
	ID        string
	Subject   string // e.g. a verdict id, component id, or session id
	Action    string
	Actor     string
	Timestamp time.Time
	Details   map[string]any
}

// AuditStore persists AuditRecord rows. Append-only: there is no
// update or delete.
type AuditStore interface {
	AppendAudit(ctx context.Context, r AuditRecord) error
	ListAuditBySubject(ctx context.Context, subject string) ([]AuditRecord, error)
}

// Store bundles all four persistence contracts, the shape both
// MemoryStore and PostgresStore satisfy.
type Store interface {
	ComponentStore
	VerdictStore
	PrecedentStore
	AuditStore
}
