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

package agent

import (
	"sort"
	"sync"

	apperrors "github.com/darianrosebrook/agent-agency/internal/errors"
	"github.com/darianrosebrook/agent-agency/pkg/task"
)

// Pool is the registered agent pool the task router selects from,
// scored the way pkg/coordinator.LoadBalancer scores internal
// components: current load, a performance-history bonus, and
// capability-level gating rather than mere presence.
type Pool struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	load     map[string]int
}

// NewPool returns an empty agent pool.
func NewPool() *Pool {
	return &Pool{
		profiles: make(map[string]*Profile),
		load:     make(map[string]int),
	}
}

// Register adds or replaces an agent profile. Capabilities must be
// non-empty per spec.md §3's AgentProfile invariant.
func (p *Pool) Register(profile *Profile) error {
	if profile == nil || profile.ID == "" {
		return apperrors.Validation("agent id is required")
	}
	if len(profile.Capabilities) == 0 {
		return apperrors.Validation("agent capabilities must be non-empty").WithDetailsf("agent %s", profile.ID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[profile.ID] = profile
	return nil
}

// Get returns the profile for id, if registered.
func (p *Pool) Get(id string) (*Profile, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	prof, ok := p.profiles[id]
	return prof, ok
}

// Deregister removes id from the pool.
func (p *Pool) Deregister(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.profiles, id)
	delete(p.load, id)
}

type scoredAgent struct {
	id    string
	score float64
}

// SelectForTask picks the best-scoring agent whose capabilities meet
// or exceed every level t requires, excluding any already at
// MaxConcurrentTasks. Ties break by lowest current load, then highest
// success rate, then lexicographic id.
func (p *Pool) SelectForTask(t *task.Task) (*Profile, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var candidates []scoredAgent
	for id, prof := range p.profiles {
		if !meetsCapabilities(prof.Capabilities, t.RequiredCapabilities) {
			continue
		}
		load := p.load[id]
		if prof.MaxConcurrentTasks > 0 && load >= prof.MaxConcurrentTasks {
			continue
		}
		candidates = append(candidates, scoredAgent{id: id, score: scoreAgent(prof, load)})
	}
	if len(candidates) == 0 {
		return nil, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		li, lj := p.load[candidates[i].id], p.load[candidates[j].id]
		if li != lj {
			return li < lj
		}
		si, sj := p.profiles[candidates[i].id].SuccessRate(), p.profiles[candidates[j].id].SuccessRate()
		if si != sj {
			return si > sj
		}
		return candidates[i].id < candidates[j].id
	})

	return p.profiles[candidates[0].id], true
}

func meetsCapabilities(have, want map[string]int) bool {
	for cap, level := range want {
		if have[cap] < level {
			return false
		}
	}
	return true
}

func scoreAgent(prof *Profile, load int) float64 {
	score := 100.0
	if prof.MaxConcurrentTasks > 0 {
		score -= float64(load) / float64(prof.MaxConcurrentTasks) * 40
	}
	score += prof.SuccessRate() * 20
	return score
}

// IncrementLoad records a new in-flight task for id.
func (p *Pool) IncrementLoad(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.load[id]++
}

// DecrementLoad releases a completed or abandoned task for id.
func (p *Pool) DecrementLoad(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.load[id] > 0 {
		p.load[id]--
	}
}

// RecordOutcome appends a performance record to id's history. Unknown
// ids are a no-op: a dispatched task may outlive its agent's
// registration.
func (p *Pool) RecordOutcome(id string, rec PerformanceRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prof, ok := p.profiles[id]
	if !ok {
		return
	}
	prof.PerformanceHistory = append(prof.PerformanceHistory, rec)
}
