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

package task

import (
	"sync"
	"time"

	apperrors "github.com/darianrosebrook/agent-agency/internal/errors"
)

// Trigger names the event that requests a transition, for logging and
// for the table lookup below.
type Trigger string

const (
	TriggerIntakeAccepted    Trigger = "intake_accepted"
	TriggerRouted            Trigger = "router_selected_agent"
	TriggerCancel            Trigger = "external_cancel"
	TriggerAcknowledged      Trigger = "agent_acknowledged"
	TriggerCompleted         Trigger = "agent_reported_success"
	TriggerFailedFinal       Trigger = "agent_reported_failure_exhausted"
	TriggerFailedRetry       Trigger = "agent_reported_failure_retry"
	TriggerTimeout           Trigger = "task_timeout_elapsed"
)

type transitionKey struct {
	from State
	to   State
}

// transitions is the permitted-transition table from spec.md §4.1.
var transitions = map[transitionKey]Trigger{
	{StatePending, StateQueued}:        TriggerIntakeAccepted,
	{StateQueued, StateAssigned}:       TriggerRouted,
	{StateQueued, StateCancelled}:      TriggerCancel,
	{StateAssigned, StateInProgress}:   TriggerAcknowledged,
	{StateAssigned, StateCancelled}:    TriggerCancel,
	{StateInProgress, StateCompleted}:  TriggerCompleted,
	{StateInProgress, StateFailed}:     TriggerFailedFinal,
	{StateInProgress, StateQueued}:     TriggerFailedRetry,
	{StateInProgress, StateTimedOut}:   TriggerTimeout,
	{StateInProgress, StateCancelled}:  TriggerCancel,
}

// StateMachine owns one task's lifecycle and its state-specific deadline.
// Entry into each non-terminal state resets that deadline; the timeout
// deadline specifically is measured from entry into IN_PROGRESS.
type StateMachine struct {
	mu       sync.Mutex
	task     *Task
	state    State
	deadline time.Time
	now      func() time.Time
}

// NewStateMachine starts a state machine for t in PENDING.
func NewStateMachine(t *Task) *StateMachine {
	return &StateMachine{
		task:  t,
		state: StatePending,
		now:   time.Now,
	}
}

// State returns the current state.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Deadline returns the deadline armed on entry to the current state.
func (m *StateMachine) Deadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deadline
}

// Transition attempts (m.state -> to) and, if permitted, applies it,
// resets the deadline, and increments Attempts when retrying. Entry is
// serialized per spec.md §5 ("state transitions are serialized per-task
// via the state machine's entry lock").
func (m *StateMachine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := transitionKey{from: m.state, to: to}
	if _, ok := transitions[key]; !ok {
		return apperrors.New(apperrors.ErrorTypeConflict, "invalid state transition").
			WithDetailsf("INVALID_STATE_TRANSITION: %s -> %s", m.state, to)
	}

	if m.state == StateInProgress && to == StateQueued {
		m.task.Attempts++
	}

	m.state = to
	m.task.State = to
	now := m.now()
	switch to {
	case StateInProgress:
		m.deadline = now.Add(m.task.Timeout)
	default:
		m.deadline = time.Time{}
	}
	return nil
}

// CanTransition reports whether (current -> to) is permitted without
// mutating state.
func (m *StateMachine) CanTransition(to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := transitions[transitionKey{from: m.state, to: to}]
	return ok
}

// Expired reports whether the current IN_PROGRESS deadline has elapsed.
func (m *StateMachine) Expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateInProgress || m.deadline.IsZero() {
		return false
	}
	return m.now().After(m.deadline)
}
