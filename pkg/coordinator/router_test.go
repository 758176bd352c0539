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

var _ = Describe("Router", func() {
	var (
		bus      *EventBus
		registry *Registry
		balancer *LoadBalancer
		router   *Router
	)

	BeforeEach(func() {
		bus = NewEventBus()
		registry = NewRegistry(bus)
		balancer = NewLoadBalancer(registry)
		router = NewRouter(registry, balancer, bus)
	})

	It("rejects an unrecognized request type", func() {
		_, err := router.RouteRequest("not-a-real-type", "", RoutingPreferences{})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("UNKNOWN_REQUEST_TYPE"))
	})

	It("fails with NO_HEALTHY_COMPONENT when no candidate is eligible", func() {
		Expect(registry.RegisterComponent(&ComponentDescriptor{ID: "a", Type: ComponentAgentRegistry})).To(Succeed())
		registry.SetHealth("a", &Health{ComponentID: "a", Status: StatusUnhealthy})

		_, err := router.RouteRequest("agent-selection", "", RoutingPreferences{})
		Expect(err).To(HaveOccurred())
		Expect(apperrors.Is(err, apperrors.ErrorTypeNotFound)).To(BeTrue())
	})

	It("routes to a healthy candidate and reports a bounded confidence", func() {
		Expect(registry.RegisterComponent(&ComponentDescriptor{ID: "a", Type: ComponentAgentRegistry, SupportedTaskTypes: []string{"analysis"}})).To(Succeed())
		registry.SetHealth("a", &Health{ComponentID: "a", Status: StatusHealthy})

		decision, err := router.RouteRequest("agent-selection", "analysis", RoutingPreferences{})
		Expect(err).NotTo(HaveOccurred())
		Expect(decision.SelectedID).To(Equal("a"))
		Expect(decision.Confidence).To(BeNumerically(">=", 0))
		Expect(decision.Confidence).To(BeNumerically("<=", 1))
	})
})
