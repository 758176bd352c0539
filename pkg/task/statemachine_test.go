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
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("State Machine", func() {
	var t *Task

	BeforeEach(func() {
		t = &Task{ID: "T-1", Priority: 5, MaxAttempts: 3, Timeout: 50 * time.Millisecond}
	})

	Context("the happy path", func() {
		It("walks PENDING -> QUEUED -> ASSIGNED -> IN_PROGRESS -> COMPLETED", func() {
			sm := NewStateMachine(t)
			Expect(sm.State()).To(Equal(StatePending))

			Expect(sm.Transition(StateQueued)).To(Succeed())
			Expect(sm.Transition(StateAssigned)).To(Succeed())
			Expect(sm.Transition(StateInProgress)).To(Succeed())
			Expect(sm.Transition(StateCompleted)).To(Succeed())

			Expect(sm.State()).To(Equal(StateCompleted))
			Expect(sm.State().Terminal()).To(BeTrue())
		})
	})

	Context("BR: retry resets to QUEUED below maxAttempts", func() {
		It("increments attempts and allows re-routing", func() {
			sm := NewStateMachine(t)
			Expect(sm.Transition(StateQueued)).To(Succeed())
			Expect(sm.Transition(StateAssigned)).To(Succeed())
			Expect(sm.Transition(StateInProgress)).To(Succeed())

			Expect(sm.Transition(StateQueued)).To(Succeed())
			Expect(t.Attempts).To(Equal(1))
			Expect(sm.State()).To(Equal(StateQueued))
		})
	})

	Context("invalid transitions", func() {
		It("rejects a transition absent from the table and leaves state unchanged", func() {
			sm := NewStateMachine(t)
			err := sm.Transition(StateCompleted)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("INVALID_STATE_TRANSITION"))
			Expect(sm.State()).To(Equal(StatePending))
		})

		It("rejects COMPLETED -> anything", func() {
			sm := NewStateMachine(t)
			Expect(sm.Transition(StateQueued)).To(Succeed())
			Expect(sm.Transition(StateAssigned)).To(Succeed())
			Expect(sm.Transition(StateInProgress)).To(Succeed())
			Expect(sm.Transition(StateCompleted)).To(Succeed())

			Expect(sm.Transition(StateFailed)).To(HaveOccurred())
		})
	})

	Context("timeout deadline", func() {
		It("arms the deadline only on entry to IN_PROGRESS and expires after it elapses", func() {
			sm := NewStateMachine(t)
			Expect(sm.Transition(StateQueued)).To(Succeed())
			Expect(sm.Deadline().IsZero()).To(BeTrue())

			Expect(sm.Transition(StateAssigned)).To(Succeed())
			Expect(sm.Transition(StateInProgress)).To(Succeed())
			Expect(sm.Deadline().IsZero()).To(BeFalse())
			Expect(sm.Expired()).To(BeFalse())

			Eventually(sm.Expired, "200ms", "5ms").Should(BeTrue())
		})
	})

	Context("CanTransition", func() {
		It("reports permitted transitions without mutating state", func() {
			sm := NewStateMachine(t)
			Expect(sm.CanTransition(StateQueued)).To(BeTrue())
			Expect(sm.CanTransition(StateCompleted)).To(BeFalse())
			Expect(sm.State()).To(Equal(StatePending))
		})
	})
})
