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

// Package dispatch is the orchestrator's HTTP-facing core: it drives a
// submitted task.Task from intake through its state machine, tracking
// budget consumption and selecting an agent, without taking an opinion
// on how the selected agent actually performs the work (pkg/agent's
// Executor is the caller's concern, per spec.md NON-GOALS).
package dispatch

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/darianrosebrook/agent-agency/internal/config"
	apperrors "github.com/darianrosebrook/agent-agency/internal/errors"
	"github.com/darianrosebrook/agent-agency/pkg/agent"
	"github.com/darianrosebrook/agent-agency/pkg/arbitration"
	"github.com/darianrosebrook/agent-agency/pkg/policy"
	"github.com/darianrosebrook/agent-agency/pkg/task"
)

// BudgetDeriver is the one policy.Engine method Service depends on,
// narrowed so tests can substitute a fake instead of a full policy
// store and its filesystem-backed loader.
type BudgetDeriver interface {
	DeriveBudget(spec policy.BudgetSpec) (*policy.BudgetState, error)
}

// QualityGateDeriver is the one further policy.Engine method Service
// consults at completion time: the declared risk tier's contract and
// manual-review gates feed the facts handed to the Verdict Generator.
type QualityGateDeriver interface {
	QualityGates(riskTier int) (*policy.QualityGates, error)
}

// VerdictGenerator is the narrow arbitration.Engine surface a task's
// tracked budget usage is arbitrated against before it reaches a
// terminal state (spec.md §4: Agent Assignment -> Budget Monitor ->
// Verdict Generator -> Terminal state). Nil skips arbitration entirely,
// so every completion is approved unconditionally.
type VerdictGenerator interface {
	GenerateVerdict(session *arbitration.Session, arbiterID string) (*arbitration.Verdict, error)
}

// record is one submitted task's full tracked state.
type record struct {
	task      *task.Task
	machine   *task.StateMachine
	agentID   string
	submitted time.Time
}

// Stats is a point-in-time tally of tracked tasks by lifecycle state.
type Stats struct {
	Queued     int
	Assigned   int
	InProgress int
	Completed  int
	Failed     int
	Cancelled  int
	TimedOut   int
}

// Service ties the task queue, its state machines, the agent pool, and
// the budget monitor into the single entry point cmd/orchestrator's
// HTTP surface calls.
type Service struct {
	mu      sync.RWMutex
	queue   *task.Queue
	agents  *agent.Pool
	budgets BudgetDeriver
	monitor *policy.BudgetMonitor
	gates   QualityGateDeriver
	arbiter VerdictGenerator
	ruleIDs []string
	records map[string]*record
	intake  *config.IntakeConfig
	log     *logrus.Logger
}

// NewService wires a Service. budgets and monitor may be nil: a
// submission with no riskTier metadata skips budget derivation
// entirely, and a nil monitor simply isn't tracked. arbiter may also be
// nil, in which case Complete approves every task without consulting
// the Verdict Generator. ruleIDs names the constitutional rules a
// completion is arbitrated against; it is ignored when arbiter is nil.
func NewService(queue *task.Queue, agents *agent.Pool, budgets BudgetDeriver, monitor *policy.BudgetMonitor, intake *config.IntakeConfig, gates QualityGateDeriver, arbiter VerdictGenerator, ruleIDs []string) *Service {
	return &Service{
		queue:   queue,
		agents:  agents,
		budgets: budgets,
		monitor: monitor,
		gates:   gates,
		arbiter: arbiter,
		ruleIDs: ruleIDs,
		records: make(map[string]*record),
		intake:  intake,
		log:     logrus.StandardLogger(),
	}
}

// riskTierAndWaivers reads the optional `riskTier` (int) and `waiverIds`
// ([]string) submission metadata fields DESIGN.md's Open Question
// decision establishes as the budget-derivation hook.
func riskTierAndWaivers(t *task.Task) (tier int, waiverIDs []string, ok bool) {
	if t.Metadata == nil {
		return 0, nil, false
	}
	raw, present := t.Metadata["riskTier"]
	if !present {
		return 0, nil, false
	}
	switch v := raw.(type) {
	case int:
		tier = v
	case float64:
		tier = int(v)
	default:
		return 0, nil, false
	}
	if ids, ok := t.Metadata["waiverIds"].([]string); ok {
		waiverIDs = ids
	} else if ids, ok := t.Metadata["waiverIds"].([]any); ok {
		for _, id := range ids {
			if s, ok := id.(string); ok {
				waiverIDs = append(waiverIDs, s)
			}
		}
	}
	return tier, waiverIDs, true
}

// Submit runs intake on env and, if accepted, derives its budget,
// enters it into PENDING->QUEUED, and enqueues it for dispatch. A
// rejected envelope is returned as a normal IntakeResult, not an error,
// per spec.md §7.
func (s *Service) Submit(env task.Envelope) (*task.IntakeResult, error) {
	result := task.Process(env, s.intake, nil)
	if result.Status != "accepted" {
		return result, nil
	}

	t := result.Task
	if tier, waiverIDs, ok := riskTierAndWaivers(t); ok && s.budgets != nil {
		state, err := s.budgets.DeriveBudget(policy.BudgetSpec{RiskTier: tier, WaiverIDs: waiverIDs, ApplyWaivers: len(waiverIDs) > 0})
		if err != nil {
			return nil, err
		}
		t.Budget = task.Budget{MaxFiles: state.Effective.MaxFiles, MaxLoc: state.Effective.MaxLoc}
	}

	machine := task.NewStateMachine(t)
	if err := machine.Transition(task.StateQueued); err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(t); err != nil {
		return nil, err
	}
	if s.monitor != nil {
		s.monitor.Track(t.ID, policy.Budget{MaxFiles: t.Budget.MaxFiles, MaxLoc: t.Budget.MaxLoc})
	}

	s.mu.Lock()
	s.records[t.ID] = &record{task: t, machine: machine, submitted: time.Now()}
	s.mu.Unlock()

	return result, nil
}

// Cancel transitions id to CANCELLED from whichever non-terminal state
// it is in, releasing its queue slot, agent load, and tracked budget.
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	s.mu.Unlock()
	if !ok {
		return apperrors.NotFound("task not found").WithDetailsf("id=%s", id)
	}

	if err := rec.machine.Transition(task.StateCancelled); err != nil {
		return err
	}

	s.finishTracking(id, rec)
	return nil
}

// Acknowledge transitions id from ASSIGNED to IN_PROGRESS: the agent
// picked it up and is now working it.
func (s *Service) Acknowledge(id string) error {
	rec, ok := s.lookup(id)
	if !ok {
		return apperrors.NotFound("task not found").WithDetailsf("id=%s", id)
	}
	return rec.machine.Transition(task.StateInProgress)
}

// ReportProgress folds an agent-reported change into id's tracked
// budget usage. This is the real file-change source the Budget Monitor
// observes: the project watcher invalidates the policy cache (see
// pkg/policy.Store.Watch), but per-task usage comes from the agent
// actually doing the work, not from watching the policy directory.
func (s *Service) ReportProgress(id string, filesChanged, linesChanged int) error {
	if _, ok := s.lookup(id); !ok {
		return apperrors.NotFound("task not found").WithDetailsf("id=%s", id)
	}
	if s.monitor != nil {
		s.monitor.Observe(policy.ChangeEvent{TaskID: id, FilesChanged: filesChanged, LinesChanged: linesChanged})
	}
	return nil
}

// Complete arbitrates id's tracked usage against its constitutional
// rules and transitions it to its terminal state: COMPLETED unless the
// Verdict Generator rejects it, in which case FAILED. With no arbiter
// wired, every completion is approved unconditionally.
func (s *Service) Complete(id string) (*arbitration.Verdict, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return nil, apperrors.NotFound("task not found").WithDetailsf("id=%s", id)
	}

	verdict, outcome, err := s.arbitrate(id, rec)
	if err != nil {
		return nil, err
	}

	terminal := task.StateCompleted
	if outcome == arbitration.OutcomeRejected {
		terminal = task.StateFailed
	}
	if err := rec.machine.Transition(terminal); err != nil {
		return nil, err
	}
	s.finishTracking(id, rec)
	return verdict, nil
}

// Fail records an agent-reported failure for id. With retry true and
// attempts remaining under the task's MaxAttempts, it is requeued
// (IN_PROGRESS -> QUEUED); otherwise it moves straight to FAILED.
func (s *Service) Fail(id string, retry bool) error {
	rec, ok := s.lookup(id)
	if !ok {
		return apperrors.NotFound("task not found").WithDetailsf("id=%s", id)
	}

	if retry && rec.task.Attempts < rec.task.MaxAttempts {
		if err := rec.machine.Transition(task.StateQueued); err != nil {
			return err
		}
		s.releaseAgent(rec)
		return s.queue.Enqueue(rec.task)
	}

	if err := rec.machine.Transition(task.StateFailed); err != nil {
		return err
	}
	s.finishTracking(id, rec)
	return nil
}

// SweepTimeouts transitions every tracked IN_PROGRESS task whose
// deadline has elapsed to TIMED_OUT, releasing its agent load and
// budget tracking same as any other terminal transition.
func (s *Service) SweepTimeouts() {
	s.mu.RLock()
	expired := make([]*record, 0)
	for _, rec := range s.records {
		if rec.machine.Expired() {
			expired = append(expired, rec)
		}
	}
	s.mu.RUnlock()

	for _, rec := range expired {
		if err := rec.machine.Transition(task.StateTimedOut); err != nil {
			continue
		}
		s.finishTracking(rec.task.ID, rec)
	}
}

func (s *Service) lookup(id string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

func (s *Service) releaseAgent(rec *record) {
	s.mu.Lock()
	agentID := rec.agentID
	s.mu.Unlock()
	if agentID != "" {
		s.agents.DecrementLoad(agentID)
	}
}

func (s *Service) finishTracking(id string, rec *record) {
	s.queue.Remove(id)
	s.releaseAgent(rec)
	if s.monitor != nil {
		s.monitor.Release(id)
	}
}

// arbitrate builds a constitutional-review session from rec's tracked
// budget usage and consults the Verdict Generator, when wired.
func (s *Service) arbitrate(id string, rec *record) (*arbitration.Verdict, arbitration.Outcome, error) {
	if s.arbiter == nil {
		return nil, arbitration.OutcomeApproved, nil
	}

	tier, _, _ := riskTierAndWaivers(rec.task)
	var filesChanged, linesChanged int
	if s.monitor != nil {
		filesChanged, linesChanged, _ = s.monitor.Usage(id)
	}

	facts := map[string]any{
		"severity":                string(severityForTier(tier)),
		"files_changed":           filesChanged,
		"max_files":               rec.task.Budget.MaxFiles,
		"lines_changed":           linesChanged,
		"max_loc":                 rec.task.Budget.MaxLoc,
		"manual_review_completed": metadataBool(rec.task, "manualReviewCompleted"),
		"contracts_present":       metadataBool(rec.task, "contractsPresent"),
	}
	if s.gates != nil {
		if gates, err := s.gates.QualityGates(tier); err == nil {
			facts["contracts_required"] = gates.ContractsRequired
		}
	}

	session := &arbitration.Session{
		ID: "SESS-" + id,
		Violation: &arbitration.Violation{
			ID:       "V-" + id,
			Category: string(rec.task.Type),
			Severity: severityForTier(tier),
			Summary:  rec.task.Description,
			Facts:    facts,
		},
		RuleIDs: s.ruleIDs,
	}

	verdict, err := s.arbiter.GenerateVerdict(session, "dispatch-service")
	if err != nil {
		return nil, "", err
	}
	return verdict, verdict.Outcome, nil
}

// severityForTier maps a declared risk tier to the violation severity
// arbitrated at completion: tier 3 (largest budget, manual review
// required by policy.DefaultPolicy) is treated as CRITICAL, tier 2 as
// MAJOR, everything else as MINOR.
func severityForTier(tier int) arbitration.Severity {
	switch {
	case tier >= 3:
		return arbitration.SeverityCritical
	case tier == 2:
		return arbitration.SeverityMajor
	default:
		return arbitration.SeverityMinor
	}
}

func metadataBool(t *task.Task, key string) bool {
	if t.Metadata == nil {
		return false
	}
	v, _ := t.Metadata[key].(bool)
	return v
}

// DispatchNext pops the highest-priority queued task, if any, selects
// an agent whose capabilities meet it, and transitions it QUEUED ->
// ASSIGNED. It returns false when the queue is empty or no agent
// currently qualifies (the task is re-enqueued in that case).
func (s *Service) DispatchNext() (*task.Task, bool) {
	t, ok := s.queue.Dequeue()
	if !ok {
		return nil, false
	}

	prof, ok := s.agents.SelectForTask(t)
	if !ok {
		_ = s.queue.Enqueue(t)
		return nil, false
	}

	s.mu.Lock()
	rec, tracked := s.records[t.ID]
	s.mu.Unlock()
	if !tracked {
		_ = s.queue.Enqueue(t)
		return nil, false
	}

	if err := rec.machine.Transition(task.StateAssigned); err != nil {
		_ = s.queue.Enqueue(t)
		return nil, false
	}

	s.agents.IncrementLoad(prof.ID)
	s.mu.Lock()
	rec.agentID = prof.ID
	s.mu.Unlock()

	s.log.WithField("task", t.ID).WithField("agent", prof.ID).Info("task assigned")
	return t, true
}

// RunDispatchLoop calls DispatchNext on interval until stop is closed.
func (s *Service) RunDispatchLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for {
				if _, ok := s.DispatchNext(); !ok {
					break
				}
			}
			s.SweepTimeouts()
		}
	}
}

// Task returns the tracked task for id.
func (s *Service) Task(id string) (*task.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return rec.task, true
}

// Snapshot tallies tracked tasks by their state machine's current state.
func (s *Service) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	for _, rec := range s.records {
		switch rec.machine.State() {
		case task.StateQueued:
			st.Queued++
		case task.StateAssigned:
			st.Assigned++
		case task.StateInProgress:
			st.InProgress++
		case task.StateCompleted:
			st.Completed++
		case task.StateFailed:
			st.Failed++
		case task.StateCancelled:
			st.Cancelled++
		case task.StateTimedOut:
			st.TimedOut++
		}
	}
	return st
}
