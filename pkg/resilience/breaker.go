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

// Package resilience implements the cross-cutting plumbing of spec.md
// §4.5: a per-endpoint circuit breaker, a sliding-window rate limiter,
// a chunked streaming JSON parser, and a process-wide connection pool.
package resilience

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig is the per-registry circuit-breaker tuning: opens after
// FailureThreshold consecutive failures, half-opens for a single probe
// after RecoveryTimeout.
type BreakerConfig struct {
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
}

// BreakerRegistry holds one gobreaker.CircuitBreaker per endpoint,
// created lazily on first use, all sharing the same threshold/timeout.
// This is spec.md §4.5's "per-endpoint state machine" — consecutive-
// failure semantics, not the percentage-of-window breaker the teacher's
// own dependency manager implements (see DESIGN.md).
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry returns a registry with no endpoints registered
// yet.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{cfg: cfg, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (r *BreakerRegistry) breakerFor(endpoint string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[endpoint]
	if ok {
		return b
	}
	b = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: 1,
		Timeout:     r.cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.cfg.FailureThreshold
		},
	})
	r.breakers[endpoint] = b
	return b
}

// Execute runs fn through endpoint's breaker. While the breaker is OPEN
// this fails fast with gobreaker.ErrOpenState without calling fn; while
// HALF_OPEN a single probe is admitted per gobreaker.Settings.MaxRequests.
func (r *BreakerRegistry) Execute(endpoint string, fn func() (any, error)) (any, error) {
	return r.breakerFor(endpoint).Execute(fn)
}

// State reports the current state of endpoint's breaker. An endpoint
// that has never been called is reported CLOSED without allocating a
// breaker for it.
func (r *BreakerRegistry) State(endpoint string) gobreaker.State {
	r.mu.Lock()
	b, ok := r.breakers[endpoint]
	r.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return b.State()
}

// Guard runs fn through reg's endpoint breaker when reg is non-nil,
// and calls fn directly otherwise. Collaborator bindings hold reg as
// an optional field so they stay constructible (and their existing
// tests unchanged) without a registry, while production wiring in
// cmd/orchestrator supplies one.
func Guard(reg *BreakerRegistry, endpoint string, fn func() (any, error)) (any, error) {
	if reg == nil {
		return fn()
	}
	return reg.Execute(endpoint, fn)
}
