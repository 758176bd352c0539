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
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/darianrosebrook/agent-agency/internal/errors"
	"github.com/darianrosebrook/agent-agency/pkg/coordinator"
	"github.com/darianrosebrook/agent-agency/pkg/dispatch"
	"github.com/darianrosebrook/agent-agency/pkg/resilience"
	"github.com/darianrosebrook/agent-agency/pkg/task"
)

// Server wires pkg/dispatch and pkg/coordinator behind the chi HTTP
// surface spec.md §6 and SPEC_FULL.md name: task submission, task
// lifecycle (acknowledge/progress/complete/fail), cancellation,
// liveness, a stats snapshot, request routing, and an internal
// component-registration surface.
type Server struct {
	dispatch    *dispatch.Service
	coordinator *coordinator.Coordinator
	metrics     *Metrics
	limiter     *resilience.RateLimiter
	validate    *validator.Validate
}

// NewServer returns a Server ready to be mounted with Router. limiter may
// be nil, in which case inbound requests are not throttled.
func NewServer(d *dispatch.Service, c *coordinator.Coordinator, m *Metrics, limiter *resilience.RateLimiter) *Server {
	return &Server{dispatch: d, coordinator: c, metrics: m, limiter: limiter, validate: validator.New()}
}

// Router builds the chi.Router exposing every endpoint, with CORS,
// panic recovery, and Prometheus instrumentation applied as middleware.
func (s *Server) Router(allowedOrigins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	if s.metrics != nil {
		r.Use(HTTPMetrics(s.metrics))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	}))
	if s.limiter != nil {
		r.Use(s.rateLimit)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Post("/tasks", s.handleSubmitTask)
		r.Post("/tasks/{id}/ack", s.handleAcknowledgeTask)
		r.Post("/tasks/{id}/progress", s.handleReportProgress)
		r.Post("/tasks/{id}/complete", s.handleCompleteTask)
		r.Post("/tasks/{id}/fail", s.handleFailTask)
		r.Post("/tasks/{id}/cancel", s.handleCancelTask)
		r.Post("/components", s.handleRegisterComponent)
		r.Post("/route", s.handleRouteRequest)
		r.Post("/route/{id}/complete", s.handleCompleteRoute)
	})
	return r
}

// rateLimit throttles inbound requests per client address using
// resilience.RateLimiter's sliding window, per spec.md §4.5.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state, backoff, err := s.limiter.Allow(r.Context(), clientKey(r))
		if err != nil {
			writeError(w, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "rate limiter unavailable"))
			return
		}
		if state == resilience.LimiterThrottled || state == resilience.LimiterBlocked {
			w.Header().Set("Retry-After", strconv.Itoa(int(backoff.Seconds())))
			writeProblem(w, http.StatusTooManyRequests, "about:blank#rate-limited", "rate limit exceeded", string(state))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.coordinator.Snapshot()
	tasks := s.dispatch.Snapshot()
	if s.metrics != nil {
		s.metrics.SetQueueDepth(tasks.Queued)
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Components: componentStats{
			Registered: snap.Registered,
			Healthy:    snap.Healthy,
			Degraded:   snap.Degraded,
			Unhealthy:  snap.Unhealthy,
			Unknown:    snap.Unknown,
		},
		Tasks: taskStats{
			Queued:     tasks.Queued,
			Assigned:   tasks.Assigned,
			InProgress: tasks.InProgress,
			Completed:  tasks.Completed,
			Failed:     tasks.Failed,
			Cancelled:  tasks.Cancelled,
			TimedOut:   tasks.TimedOut,
		},
	})
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Validation("malformed JSON body").WithDetailsf("%v", err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, apperrors.Validation("request failed validation").WithDetailsf("%v", err))
		return
	}

	payload, err := structToMap(req)
	if err != nil {
		writeError(w, apperrors.Internal("failed to normalize request"))
		return
	}

	result, err := s.dispatch.Submit(task.Envelope{Payload: payload, ContentType: "application/json"})
	if err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordSubmission(result.Status)
	}

	resp := taskResponse{Status: result.Status, Errors: issueMessages(result.Errors), Warnings: issueMessages(result.Warnings)}
	status := http.StatusAccepted
	if result.Status != "accepted" {
		status = http.StatusBadRequest
	} else {
		resp.TaskID = result.Task.ID
		resp.State = string(result.Task.State)
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.dispatch.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordCancellation()
	}
	writeJSON(w, http.StatusOK, map[string]string{"taskId": id, "state": string(task.StateCancelled)})
}

func (s *Server) handleAcknowledgeTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.dispatch.Acknowledge(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"taskId": id, "state": string(task.StateInProgress)})
}

func (s *Server) handleReportProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req reportProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Validation("malformed JSON body").WithDetailsf("%v", err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, apperrors.Validation("request failed validation").WithDetailsf("%v", err))
		return
	}
	if err := s.dispatch.ReportProgress(id, req.FilesChanged, req.LinesChanged); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"taskId": id})
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, err := s.dispatch.Complete(id)
	if err != nil {
		writeError(w, err)
		return
	}
	tracked, _ := s.dispatch.Task(id)
	resp := completeTaskResponse{TaskID: id, State: string(tracked.State)}
	if v != nil {
		resp.Verdict = &verdict{ID: v.ID, Outcome: string(v.Outcome), Confidence: v.Confidence}
		if s.metrics != nil {
			s.metrics.RecordVerdict(string(v.Outcome))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFailTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req failTaskRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperrors.Validation("malformed JSON body").WithDetailsf("%v", err))
			return
		}
	}
	if err := s.dispatch.Fail(id, req.Retry); err != nil {
		writeError(w, err)
		return
	}
	tracked, _ := s.dispatch.Task(id)
	writeJSON(w, http.StatusOK, map[string]string{"taskId": id, "state": string(tracked.State)})
}

func (s *Server) handleRouteRequest(w http.ResponseWriter, r *http.Request) {
	var req routeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Validation("malformed JSON body").WithDetailsf("%v", err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, apperrors.Validation("request failed validation").WithDetailsf("%v", err))
		return
	}

	decision, err := s.coordinator.Router.RouteRequest(req.RequestType, req.TaskType, coordinator.RoutingPreferences{
		PreferredComponent: req.PreferredComponent,
		AvoidComponents:    req.AvoidComponents,
		MaxLoad:            req.MaxLoad,
		Location:           req.Location,
		Capabilities:       req.Capabilities,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, routeResponse{
		ID:           decision.ID,
		SelectedID:   decision.SelectedID,
		Confidence:   decision.Confidence,
		Strategy:     decision.Strategy,
		Reason:       decision.Reason,
		Alternatives: decision.Alternatives,
	})
}

// handleCompleteRoute releases the load a prior /v1/route call placed on
// the selected component, once the caller's routed request has actually
// finished.
func (s *Server) handleCompleteRoute(w http.ResponseWriter, r *http.Request) {
	var req completeRouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Validation("malformed JSON body").WithDetailsf("%v", err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, apperrors.Validation("request failed validation").WithDetailsf("%v", err))
		return
	}
	s.coordinator.Router.CompleteRequest(req.SelectedID, time.Duration(req.ElapsedMs)*time.Millisecond)
	writeJSON(w, http.StatusOK, map[string]string{"selectedId": req.SelectedID})
}

func (s *Server) handleRegisterComponent(w http.ResponseWriter, r *http.Request) {
	var req registerComponentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Validation("malformed JSON body").WithDetailsf("%v", err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, apperrors.Validation("request failed validation").WithDetailsf("%v", err))
		return
	}

	d := &coordinator.ComponentDescriptor{
		ID:                 req.ID,
		Type:               coordinator.ComponentType(req.Type),
		Endpoint:           req.Endpoint,
		Capabilities:       req.Capabilities,
		Dependencies:       req.Dependencies,
		MaxConcurrentTasks: req.MaxConcurrentTasks,
		SupportedTaskTypes: req.SupportedTaskTypes,
	}
	if err := s.coordinator.Registry.RegisterComponent(d); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": d.ID})
}

func issueMessages(issues []task.Issue) []string {
	if len(issues) == 0 {
		return nil
	}
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Code+": "+i.Message)
	}
	return out
}

func structToMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
