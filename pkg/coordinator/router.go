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
	"fmt"
	"time"

	apperrors "github.com/darianrosebrook/agent-agency/internal/errors"
)

// requestComponentType is the closed table mapping a routing request's
// type to the ComponentType eligible to serve it.
var requestComponentType = map[string]ComponentType{
	"agent-selection":       ComponentAgentRegistry,
	"task-routing":          ComponentTaskRouter,
	"policy-validation":     ComponentPolicyValidator,
	"performance-query":     ComponentPerformanceTracker,
	"orchestration":         ComponentOrchestrator,
	"constitutional-review": ComponentConstitutionalRuntime,
}

// Router maps a request type to eligible healthy candidates and
// delegates selection to the load balancer.
type Router struct {
	registry *Registry
	balancer *LoadBalancer
	bus      *EventBus
}

// NewRouter wires a router over registry and balancer, publishing routing
// events to bus.
func NewRouter(registry *Registry, balancer *LoadBalancer, bus *EventBus) *Router {
	return &Router{registry: registry, balancer: balancer, bus: bus}
}

// RouteRequest implements spec.md §4.2's routeRequest: map request type to
// component type, filter to healthy candidates, apply preferences, and
// delegate scoring to the load balancer.
func (r *Router) RouteRequest(requestType, taskType string, prefs RoutingPreferences) (*RoutingDecision, error) {
	componentType, ok := requestComponentType[requestType]
	if !ok {
		err := apperrors.New(apperrors.ErrorTypeValidation, "UNKNOWN_REQUEST_TYPE").WithDetailsf("requestType=%s", requestType)
		r.publishFailure(requestType, err)
		return nil, err
	}

	var candidateIDs []string
	for _, d := range r.registry.All() {
		if d.Type != componentType {
			continue
		}
		h, _ := r.registry.Health(d.ID)
		if h == nil || h.Status == StatusUnhealthy || h.Status == StatusUnknown {
			continue
		}
		candidateIDs = append(candidateIDs, d.ID)
	}

	selectedID, score, alternatives, ok := r.balancer.Select(candidateIDs, taskType, prefs)
	if !ok {
		err := apperrors.New(apperrors.ErrorTypeNotFound, "NO_HEALTHY_COMPONENT").WithDetailsf("requestType=%s", requestType)
		r.publishFailure(requestType, err)
		return nil, err
	}

	r.balancer.IncrementLoad(selectedID)

	confidence := score / 100
	if confidence > 1 {
		confidence = 1
	}
	decision := &RoutingDecision{
		ID:           fmt.Sprintf("route-%s-%s", requestType, selectedID),
		SelectedID:   selectedID,
		Confidence:   confidence,
		Strategy:     "load-balanced",
		Reason:       fmt.Sprintf("selected %s for %s with score %.1f", selectedID, requestType, score),
		Alternatives: alternatives,
	}
	if r.bus != nil {
		r.bus.Publish(Event{Name: "request:routed", Data: map[string]any{
			"requestType": requestType, "selected": selectedID, "confidence": decision.Confidence,
		}})
	}
	return decision, nil
}

// CompleteRequest releases the load a prior RouteRequest call placed on
// selectedID and folds the observed handling time into its response-time
// window. Callers invoke this once the routed request actually finishes,
// whether it succeeded or failed.
func (r *Router) CompleteRequest(selectedID string, elapsed time.Duration) {
	r.balancer.DecrementLoad(selectedID)
	r.balancer.RecordResponse(selectedID, elapsed, time.Now())
}

func (r *Router) publishFailure(requestType string, err error) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(Event{Name: "request:routing-failed", Data: map[string]any{
		"requestType": requestType, "error": err.Error(),
	}})
}
