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
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/darianrosebrook/agent-agency/pkg/resilience"
)

const (
	latencyDegradeThreshold   = 5 * time.Second
	consecutiveErrorThreshold = 3
)

// HealthChecker probes a single component and reports a raw result; the
// monitor derives a Status from it. The default implementation issues an
// HTTP GET; tests substitute a fake.
type HealthChecker interface {
	Check(ctx context.Context, d HealthCheckDescriptor) CheckResult
}

// HTTPHealthChecker issues the health-check protocol of spec.md §6: GET
// <endpoint> within the descriptor's timeout, classifying the response.
type HTTPHealthChecker struct {
	Client  *http.Client
	Breaker *resilience.BreakerRegistry
}

func (c *HTTPHealthChecker) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c *HTTPHealthChecker) Check(ctx context.Context, d HealthCheckDescriptor) CheckResult {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := d.Method
	if method == "" {
		method = http.MethodGet
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, method, d.Target, nil)
	if err != nil {
		return CheckResult{Err: err, Latency: time.Since(start)}
	}
	raw, err := resilience.Guard(c.Breaker, "health:"+d.Target, func() (any, error) {
		return c.client().Do(req)
	})
	latency := time.Since(start)
	if err != nil {
		return CheckResult{Err: err, Latency: latency}
	}
	resp := raw.(*http.Response)
	defer resp.Body.Close()

	var body struct {
		Status     string `json:"status"`
		Healthy    *bool  `json:"healthy"`
		Degraded   *bool  `json:"degraded"`
		Unhealthy  *bool  `json:"unhealthy"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	result := CheckResult{HTTPCode: resp.StatusCode, Latency: latency, StatusStr: body.Status}
	switch {
	case body.Healthy != nil && *body.Healthy:
		result.StatusStr = "healthy"
	case body.Degraded != nil && *body.Degraded:
		result.StatusStr = "degraded"
	case body.Unhealthy != nil && *body.Unhealthy:
		result.StatusStr = "unhealthy"
	}
	return result
}

// deriveStatus implements spec.md §4.2's health-derivation rules.
func deriveStatus(r CheckResult, consecutiveErrors int) Status {
	if r.Err != nil {
		return StatusUnhealthy
	}
	switch r.StatusStr {
	case "healthy":
		return StatusHealthy
	case "degraded":
		return StatusDegraded
	case "unhealthy":
		return StatusUnhealthy
	}
	switch {
	case r.HTTPCode >= 500:
		return StatusUnhealthy
	case r.HTTPCode >= 400:
		return StatusDegraded
	case r.HTTPCode >= 200 && r.HTTPCode < 300:
		if r.Latency > latencyDegradeThreshold || consecutiveErrors > consecutiveErrorThreshold {
			return StatusDegraded
		}
		return StatusHealthy
	default:
		return StatusUnhealthy
	}
}

// HealthMonitor probes every registered component once per RunTick and
// feeds results into the registry. The tick cadence is the caller's;
// a descriptor's own HealthCheck.Interval is not consulted.
type HealthMonitor struct {
	registry *Registry
	checker  HealthChecker
	now      func() time.Time

	// failures receives a HandleFailure call whenever a check errors or
	// derives StatusUnhealthy. Left nil in tests that only care about
	// registry state.
	failures *FailureManager
}

// NewHealthMonitor returns a monitor writing into registry via checker.
func NewHealthMonitor(registry *Registry, checker HealthChecker) *HealthMonitor {
	if checker == nil {
		checker = &HTTPHealthChecker{}
	}
	return &HealthMonitor{registry: registry, checker: checker, now: time.Now}
}

// CheckOnce probes id immediately and records the resulting health,
// returning the new status.
func (m *HealthMonitor) CheckOnce(ctx context.Context, id string) (Status, error) {
	d, ok := m.registry.Component(id)
	if !ok {
		return "", &componentNotFoundError{id: id}
	}

	prev, _ := m.registry.Health(id)
	consecutive := 0
	if prev != nil {
		consecutive = prev.ConsecutiveErrors
	}

	result := m.checker.Check(ctx, d.HealthCheck)
	status := deriveStatus(result, consecutive)

	if status == StatusHealthy {
		consecutive = 0
	} else if result.Err != nil || result.HTTPCode >= 400 {
		consecutive++
	}

	now := time.Now()
	if m.now != nil {
		now = m.now()
	}
	h := &Health{
		ComponentID:       id,
		Status:            status,
		LastCheck:         now,
		LastLatency:       result.Latency,
		ConsecutiveErrors: consecutive,
	}
	if result.Err != nil {
		h.Details = result.Err.Error()
	}
	m.registry.SetHealth(id, h)

	if m.failures != nil && (result.Err != nil || status == StatusUnhealthy) {
		message := "health check unhealthy"
		if result.Err != nil {
			message = result.Err.Error()
		}
		m.failures.HandleFailure(ctx, id, "", message)
	}

	return status, nil
}

// RunTick probes every registered component once. Callers drive the tick
// cadence (e.g. from a ticker at OrchestratorConfig.HealthCheckInterval).
func (m *HealthMonitor) RunTick(ctx context.Context) {
	for _, d := range m.registry.All() {
		_, _ = m.CheckOnce(ctx, d.ID)
	}
}

type componentNotFoundError struct{ id string }

func (e *componentNotFoundError) Error() string {
	return "COMPONENT_NOT_FOUND: " + e.id
}
