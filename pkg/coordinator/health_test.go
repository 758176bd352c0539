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
	"testing"
	"time"
)

type fakeChecker struct {
	result CheckResult
}

func (f *fakeChecker) Check(ctx context.Context, d HealthCheckDescriptor) CheckResult {
	return f.result
}

func TestDeriveStatusFromJSONFlags(t *testing.T) {
	cases := []struct {
		name   string
		result CheckResult
		want   Status
	}{
		{"explicit healthy", CheckResult{StatusStr: "healthy", HTTPCode: 200}, StatusHealthy},
		{"explicit degraded", CheckResult{StatusStr: "degraded", HTTPCode: 200}, StatusDegraded},
		{"explicit unhealthy", CheckResult{StatusStr: "unhealthy", HTTPCode: 200}, StatusUnhealthy},
		{"2xx fast", CheckResult{HTTPCode: 200, Latency: 10 * time.Millisecond}, StatusHealthy},
		{"2xx slow", CheckResult{HTTPCode: 200, Latency: 6 * time.Second}, StatusDegraded},
		{"4xx", CheckResult{HTTPCode: 404}, StatusDegraded},
		{"5xx", CheckResult{HTTPCode: 500}, StatusUnhealthy},
		{"network error", CheckResult{Err: context.DeadlineExceeded}, StatusUnhealthy},
	}
	for _, c := range cases {
		if got := deriveStatus(c.result, 0); got != c.want {
			t.Errorf("%s: deriveStatus() = %s, want %s", c.name, got, c.want)
		}
	}
}

func TestDeriveStatusDowngradesOnConsecutiveErrors(t *testing.T) {
	result := CheckResult{HTTPCode: 200, Latency: time.Millisecond}
	if got := deriveStatus(result, consecutiveErrorThreshold+1); got != StatusDegraded {
		t.Errorf("deriveStatus() with high consecutive errors = %s, want DEGRADED", got)
	}
}

func TestHealthMonitorCheckOnceRecordsStatus(t *testing.T) {
	bus := NewEventBus()
	registry := NewRegistry(bus)
	mustRegister(t, registry, &ComponentDescriptor{
		ID: "svc", Type: ComponentOrchestrator,
		HealthCheck: HealthCheckDescriptor{Target: "http://svc.internal/health", Timeout: time.Second},
	})

	checker := &fakeChecker{result: CheckResult{StatusStr: "healthy", HTTPCode: 200}}
	monitor := NewHealthMonitor(registry, checker)

	status, err := monitor.CheckOnce(context.Background(), "svc")
	if err != nil {
		t.Fatalf("CheckOnce: %v", err)
	}
	if status != StatusHealthy {
		t.Errorf("CheckOnce() = %s, want HEALTHY", status)
	}

	h, _ := registry.Health("svc")
	if h.Status != StatusHealthy {
		t.Errorf("registry health = %s, want HEALTHY", h.Status)
	}
}

func TestHealthMonitorResetsConsecutiveErrorsOnHealthy(t *testing.T) {
	bus := NewEventBus()
	registry := NewRegistry(bus)
	mustRegister(t, registry, &ComponentDescriptor{ID: "svc", Type: ComponentOrchestrator})

	checker := &fakeChecker{result: CheckResult{HTTPCode: 500}}
	monitor := NewHealthMonitor(registry, checker)

	for i := 0; i < 3; i++ {
		_, _ = monitor.CheckOnce(context.Background(), "svc")
	}
	h, _ := registry.Health("svc")
	if h.ConsecutiveErrors != 3 {
		t.Fatalf("ConsecutiveErrors = %d, want 3", h.ConsecutiveErrors)
	}

	checker.result = CheckResult{StatusStr: "healthy", HTTPCode: 200}
	_, _ = monitor.CheckOnce(context.Background(), "svc")

	h, _ = registry.Health("svc")
	if h.ConsecutiveErrors != 0 {
		t.Errorf("ConsecutiveErrors after a healthy check = %d, want 0", h.ConsecutiveErrors)
	}
}
