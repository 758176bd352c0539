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
	"container/heap"
	"sync"
	"time"

	apperrors "github.com/darianrosebrook/agent-agency/internal/errors"
)

// entry is one queued task plus its submission time, used to order the
// heap by (priority desc, submission time asc).
type entry struct {
	task        *Task
	submittedAt time.Time
	index       int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].submittedAt.Before(h[j].submittedAt)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Queue is a bounded, priority-ordered, deduplicated FIFO, per spec.md
// §4.1 ("Task queue"). Ordering is (priority desc, submission time asc).
type Queue struct {
	mu       sync.Mutex
	heap     entryHeap
	seen     map[string]bool
	capacity int
	now      func() time.Time
}

// NewQueue returns a Queue bounded at capacity. capacity <= 0 means
// unbounded.
func NewQueue(capacity int) *Queue {
	return &Queue{
		seen:     make(map[string]bool),
		capacity: capacity,
		now:      time.Now,
	}
}

// Enqueue adds t to the queue, rejecting QUEUE_FULL and DUPLICATE_TASK.
func (q *Queue) Enqueue(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.seen[t.ID] {
		return apperrors.New(apperrors.ErrorTypeConflict, "duplicate task").
			WithDetailsf("DUPLICATE_TASK: %s", t.ID)
	}
	if q.capacity > 0 && len(q.heap) >= q.capacity {
		return apperrors.New(apperrors.ErrorTypeConflict, "queue is full").
			WithDetailsf("QUEUE_FULL: capacity %d", q.capacity)
	}

	heap.Push(&q.heap, &entry{task: t, submittedAt: q.now()})
	q.seen[t.ID] = true
	return nil
}

// Dequeue removes and returns the highest-priority, earliest-submitted
// task. ok is false when the queue is empty.
func (q *Queue) Dequeue() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil, false
	}
	e := heap.Pop(&q.heap).(*entry)
	delete(q.seen, e.task.ID)
	return e.task, true
}

// Len reports the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Contains reports whether id is currently queued.
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seen[id]
}

// Remove drops id from the queue (e.g. on external cancel) and reports
// whether it was present.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.seen[id] {
		return false
	}
	for i, e := range q.heap {
		if e.task.ID == id {
			heap.Remove(&q.heap, i)
			delete(q.seen, id)
			return true
		}
	}
	return false
}
