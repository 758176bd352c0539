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

// Package api is the orchestrator's HTTP surface: chi routing, RFC 7807
// problem responses, request validation, and Prometheus instrumentation
// over pkg/dispatch and pkg/coordinator.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/darianrosebrook/agent-agency/internal/errors"
)

// problem is an application/problem+json body (RFC 7807), the shape the
// teacher's datastorage handlers emit for 4xx/5xx responses.
type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status"`
}

func writeProblem(w http.ResponseWriter, status int, problemType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem{Type: problemType, Title: title, Detail: detail, Status: status})
}

// writeError classifies err and writes the matching problem response. An
// *apperrors.AppError carries its own status and type; anything else is
// reported as an opaque internal error.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		writeProblem(w, appErr.StatusCode, "about:blank#"+string(appErr.Type), appErr.Message, appErr.Details)
		return
	}
	writeProblem(w, http.StatusInternalServerError, "about:blank#internal", "internal error", err.Error())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
