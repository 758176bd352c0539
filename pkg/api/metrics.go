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

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the process-wide Prometheus instrument set, registered
// once against a caller-supplied registry so tests can isolate their
// own (mirrors the teacher's NewMetricsWithRegistry pattern).
type Metrics struct {
	httpDuration     *prometheus.HistogramVec
	tasksSubmitted   *prometheus.CounterVec
	tasksCancelled   prometheus.Counter
	queueDepth       prometheus.Gauge
	routingDecisions *prometheus.CounterVec
	budgetEvents     *prometheus.CounterVec
	verdictOutcomes  *prometheus.CounterVec
}

// NewMetricsWithRegistry builds and registers every collector against
// reg. Passing a fresh prometheus.NewRegistry() per test avoids the
// "duplicate metrics collector" panic a shared default registry causes
// across table-driven tests.
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_http_request_duration_seconds",
			Help:    "HTTP request duration by route, method, and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		tasksSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_tasks_submitted_total",
			Help: "Task submissions by intake outcome (accepted/rejected).",
		}, []string{"status"}),
		tasksCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_tasks_cancelled_total",
			Help: "Tasks cancelled after submission.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_queue_depth",
			Help: "Current number of tasks waiting to be dispatched.",
		}),
		routingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_routing_decisions_total",
			Help: "Internal component routing decisions by request type.",
		}, []string{"request_type"}),
		budgetEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_budget_events_total",
			Help: "Budget threshold events by severity (warning/critical/violation).",
		}, []string{"event"}),
		verdictOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_verdict_outcomes_total",
			Help: "Arbitration verdict outcomes.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.httpDuration, m.tasksSubmitted, m.tasksCancelled, m.queueDepth, m.routingDecisions, m.budgetEvents, m.verdictOutcomes)
	return m
}

// HTTPMetrics records request duration, route pattern, method, and
// exact status code for every request, the way the teacher's gateway
// middleware instruments chi routers.
func HTTPMetrics(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			m.httpDuration.WithLabelValues(route, r.Method, strconv.Itoa(ww.status)).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RecordEvent maps a coordinator/policy event bus notification onto the
// matching counter, so cmd/orchestrator can subscribe once and forward
// every named event without a giant switch at the call site.
func (m *Metrics) RecordEvent(name string, data map[string]any) {
	switch name {
	case "request:routed":
		if rt, ok := data["requestType"].(string); ok {
			m.routingDecisions.WithLabelValues(rt).Inc()
		}
	case "budget:warning", "budget:critical", "budget:violation":
		m.budgetEvents.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) RecordSubmission(status string) { m.tasksSubmitted.WithLabelValues(status).Inc() }
func (m *Metrics) RecordCancellation()            { m.tasksCancelled.Inc() }
func (m *Metrics) SetQueueDepth(n int)            { m.queueDepth.Set(float64(n)) }
func (m *Metrics) RecordVerdict(outcome string)   { m.verdictOutcomes.WithLabelValues(outcome).Inc() }
