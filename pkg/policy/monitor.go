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

package policy

import (
	"sync"
	"sync/atomic"
)

// ChangeEvent is one filesystem-change observation from the project
// watcher collaborator (spec.md §6), attributed to a task.
type ChangeEvent struct {
	TaskID       string
	FilesChanged int
	LinesChanged int
}

// Notifier receives budget:warning/critical/violation events. It is
// satisfied by coordinator.EventBusNotifier without pkg/policy importing
// pkg/coordinator.
type Notifier interface {
	Publish(name string, data map[string]any)
}

type trackedBudget struct {
	effective    Budget
	filesChanged int
	linesChanged int
}

// BudgetMonitor owns per-task budget tracking for the task's lifetime,
// releasing it (and folding the usage into the monotonic global
// counters) at terminal state (spec.md §3 Ownership, DESIGN.md Open
// Question 2).
type BudgetMonitor struct {
	notifier Notifier

	mu     sync.Mutex
	active map[string]*trackedBudget

	totalFilesChanged int64
	totalLinesChanged int64
}

// NewBudgetMonitor returns a monitor publishing threshold events to n.
func NewBudgetMonitor(n Notifier) *BudgetMonitor {
	return &BudgetMonitor{notifier: n, active: make(map[string]*trackedBudget)}
}

// Track begins monitoring taskID against effective.
func (m *BudgetMonitor) Track(taskID string, effective Budget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[taskID] = &trackedBudget{effective: effective}
}

// Observe applies a change event, comparing cumulative usage against the
// tracked budget on both axes and emitting the highest threshold crossed.
func (m *BudgetMonitor) Observe(ev ChangeEvent) {
	m.mu.Lock()
	tb, ok := m.active[ev.TaskID]
	if !ok {
		m.mu.Unlock()
		return
	}
	tb.filesChanged += ev.FilesChanged
	tb.linesChanged += ev.LinesChanged

	filesRatio := ratio(tb.filesChanged, tb.effective.MaxFiles)
	locRatio := ratio(tb.linesChanged, tb.effective.MaxLoc)
	worst := filesRatio
	if locRatio > worst {
		worst = locRatio
	}
	m.mu.Unlock()

	data := map[string]any{
		"taskId":       ev.TaskID,
		"filesChanged": tb.filesChanged,
		"linesChanged": tb.linesChanged,
		"filesRatio":   filesRatio,
		"locRatio":     locRatio,
	}
	switch {
	case worst > 1.0:
		m.publish("budget:violation", data)
	case worst >= 0.95:
		m.publish("budget:critical", data)
	case worst >= 0.80:
		m.publish("budget:warning", data)
	}
}

func ratio(used, max int) float64 {
	if max <= 0 {
		return 0
	}
	return float64(used) / float64(max)
}

// Release stops tracking taskID, folding its final usage into the
// monotonic global counters. Safe to call more than once; subsequent
// calls are no-ops.
func (m *BudgetMonitor) Release(taskID string) {
	m.mu.Lock()
	tb, ok := m.active[taskID]
	if ok {
		delete(m.active, taskID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	atomic.AddInt64(&m.totalFilesChanged, int64(tb.filesChanged))
	atomic.AddInt64(&m.totalLinesChanged, int64(tb.linesChanged))
}

// Usage returns taskID's cumulative tracked usage. ok is false once the
// task has been released or was never tracked.
func (m *BudgetMonitor) Usage(taskID string) (filesChanged, linesChanged int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tb, tracked := m.active[taskID]
	if !tracked {
		return 0, 0, false
	}
	return tb.filesChanged, tb.linesChanged, true
}

// TotalsSnapshot returns the monotonic global counters.
func (m *BudgetMonitor) TotalsSnapshot() (filesChanged, linesChanged int64) {
	return atomic.LoadInt64(&m.totalFilesChanged), atomic.LoadInt64(&m.totalLinesChanged)
}

func (m *BudgetMonitor) publish(name string, data map[string]any) {
	if m.notifier == nil {
		return
	}
	m.notifier.Publish(name, data)
}
