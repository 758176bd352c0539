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

// Package agent is the registered pool of task-performing agents
// (spec.md §3 AgentProfile): an opaque identity with a capability set.
// No concrete LLM SDK is wired here — an agent is whatever satisfies
// Executor, human or machine.
package agent

import (
	"context"
	"time"

	"github.com/darianrosebrook/agent-agency/pkg/task"
)

// Outcome is the closed result a completed task records against an
// agent's performance history.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// PerformanceRecord is one append-only entry in an agent's history.
type PerformanceRecord struct {
	TaskID     string
	Outcome    Outcome
	DurationMs int64
	Timestamp  time.Time
}

// Profile is a registered agent, per spec.md §3 AgentProfile.
// Identifier must be unique and Capabilities non-empty; the pool
// enforces both at registration.
type Profile struct {
	ID                 string
	Name               string
	ModelFamily        string
	Capabilities       map[string]int
	MaxConcurrentTasks int
	PerformanceHistory []PerformanceRecord
}

// SuccessRate returns the fraction of recorded outcomes that were
// SUCCESS, or 0 with no history.
func (p *Profile) SuccessRate() float64 {
	if len(p.PerformanceHistory) == 0 {
		return 0
	}
	successes := 0
	for _, r := range p.PerformanceHistory {
		if r.Outcome == OutcomeSuccess {
			successes++
		}
	}
	return float64(successes) / float64(len(p.PerformanceHistory))
}

// Result is what an Executor reports back for one task.
type Result struct {
	Outcome  Outcome
	Output   any
	Duration time.Duration
}

// Executor runs a task to completion. spec.md's NON-GOALS are explicit
// that this package has no opinion on how: Execute's implementation is
// the caller's concern entirely.
type Executor interface {
	Execute(ctx context.Context, t *task.Task) (Result, error)
}
