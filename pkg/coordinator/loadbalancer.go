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
	"math"
	"sort"
	"sync"
	"time"
)

// sample is one entry in the rolling response-time window.
type sample struct {
	componentID  string
	at           time.Time
	responseTime time.Duration
}

const (
	loadWindowSize = 1000
	loadWindowTTL  = 5 * time.Minute
)

// LoadBalancer scores candidates per spec.md §4.2's load-balancer
// scoring table and tracks per-component current load and a rolling
// response-time window.
type LoadBalancer struct {
	registry RegistryView

	mu      sync.Mutex
	load    map[string]int
	samples []sample
}

// NewLoadBalancer returns a balancer scoring against registry.
func NewLoadBalancer(registry RegistryView) *LoadBalancer {
	return &LoadBalancer{
		registry: registry,
		load:     make(map[string]int),
	}
}

// scoredCandidate pairs a candidate with its computed score.
type scoredCandidate struct {
	candidate
	score float64
}

// candidate is everything the scorer needs about one component.
type candidate struct {
	id                 string
	status             Status
	currentLoad        int
	maxConcurrentTasks int
	avgResponseMs      float64
	supportedTaskTypes []string
	location           string
}

// Score computes spec.md §4.2's load-balancer score for one candidate,
// given the request's task type and optional location.
func (lb *LoadBalancer) score(c candidate, taskType, location string) float64 {
	score := 100.0
	score -= math.Min(float64(c.currentLoad)*2, 40)

	switch c.status {
	case StatusDegraded:
		score -= 20
	case StatusUnhealthy:
		score -= 50
	}

	score -= math.Min(c.avgResponseMs/100, 15)

	if taskType != "" {
		for _, t := range c.supportedTaskTypes {
			if t == taskType {
				score += 15
				break
			}
		}
	}
	if location != "" && location == c.location {
		score += 10
	}
	if c.maxConcurrentTasks > 0 && float64(c.currentLoad)/float64(c.maxConcurrentTasks) < 0.8 {
		score += 5
	}

	if score < 0 {
		score = 0
	}
	return score
}

// Select picks the highest-scoring healthy candidate among ids for the
// given task type and preferences. Ties break by lowest current load,
// then lowest average latency, then lexicographic id.
func (lb *LoadBalancer) Select(ids []string, taskType string, prefs RoutingPreferences) (string, float64, []string, bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	var pool []scoredCandidate
	avoid := make(map[string]bool, len(prefs.AvoidComponents))
	for _, a := range prefs.AvoidComponents {
		avoid[a] = true
	}

	for _, id := range ids {
		if avoid[id] {
			continue
		}
		d, ok := lb.registry.Component(id)
		if !ok {
			continue
		}
		h, _ := lb.registry.Health(id)
		status := StatusUnknown
		if h != nil {
			status = h.Status
		}
		currentLoad := lb.load[id]
		if prefs.MaxLoad > 0 && currentLoad > prefs.MaxLoad {
			continue
		}
		loc, _ := d.Metadata["location"].(string)
		if len(prefs.Capabilities) > 0 && !hasAllCapabilities(d.Capabilities, prefs.Capabilities) {
			continue
		}
		c := candidate{
			id:                 id,
			status:             status,
			currentLoad:        currentLoad,
			maxConcurrentTasks: d.MaxConcurrentTasks,
			avgResponseMs:      lb.averageResponseMs(id),
			supportedTaskTypes: d.SupportedTaskTypes,
			location:           loc,
		}
		pool = append(pool, scoredCandidate{candidate: c, score: lb.score(c, taskType, prefs.Location)})
	}

	if prefs.PreferredComponent != "" {
		for _, s := range pool {
			if s.id == prefs.PreferredComponent {
				return s.id, s.score, alternativesExcept(pool, s.id), true
			}
		}
	}

	if len(pool) == 0 {
		return "", 0, nil, false
	}

	sort.Slice(pool, func(i, j int) bool {
		if pool[i].score != pool[j].score {
			return pool[i].score > pool[j].score
		}
		if pool[i].currentLoad != pool[j].currentLoad {
			return pool[i].currentLoad < pool[j].currentLoad
		}
		if pool[i].avgResponseMs != pool[j].avgResponseMs {
			return pool[i].avgResponseMs < pool[j].avgResponseMs
		}
		return pool[i].id < pool[j].id
	})

	winner := pool[0]
	return winner.id, winner.score, alternativesExcept(pool, winner.id), true
}

func alternativesExcept(pool []scoredCandidate, exclude string) []string {
	out := make([]string, 0, len(pool))
	for _, s := range pool {
		if s.id != exclude {
			out = append(out, s.id)
		}
	}
	return out
}

func hasAllCapabilities(have map[string]int, want []string) bool {
	for _, w := range want {
		if _, ok := have[w]; !ok {
			return false
		}
	}
	return true
}

// IncrementLoad records a new selection for id.
func (lb *LoadBalancer) IncrementLoad(id string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.load[id]++
}

// DecrementLoad releases a prior selection for id (typically scheduled
// after a configured typical-task interval).
func (lb *LoadBalancer) DecrementLoad(id string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.load[id] > 0 {
		lb.load[id]--
	}
}

// RecordResponse appends a response-time observation to the rolling
// window, pruning entries older than loadWindowTTL or beyond
// loadWindowSize.
func (lb *LoadBalancer) RecordResponse(id string, d time.Duration, now time.Time) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.samples = append(lb.samples, sample{componentID: id, at: now, responseTime: d})
	lb.pruneLocked(now)
}

func (lb *LoadBalancer) pruneLocked(now time.Time) {
	cutoff := now.Add(-loadWindowTTL)
	start := 0
	for start < len(lb.samples) && lb.samples[start].at.Before(cutoff) {
		start++
	}
	lb.samples = lb.samples[start:]
	if len(lb.samples) > loadWindowSize {
		lb.samples = lb.samples[len(lb.samples)-loadWindowSize:]
	}
}

func (lb *LoadBalancer) averageResponseMs(id string) float64 {
	var sum float64
	var n int
	for _, s := range lb.samples {
		if s.componentID == id {
			sum += float64(s.responseTime.Milliseconds())
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
