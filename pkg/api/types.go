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

// submitTaskRequest is the wire shape of POST /v1/tasks. Field-level
// validation (required-ness, enums, ranges) runs here, upstream of
// pkg/task.Process's own domain validation — the two are complementary,
// not redundant: this layer protects the intake pipeline from
// structurally malformed JSON, task.Process enforces the task model's
// invariants.
type submitTaskRequest struct {
	ID                   string         `json:"id" validate:"required"`
	Type                 string         `json:"type" validate:"required,oneof=analysis research validation code-editing code-review script-execution general"`
	Description          string         `json:"description" validate:"required"`
	Priority             int            `json:"priority" validate:"omitempty,min=1,max=10"`
	Timeout              string         `json:"timeout,omitempty"`
	RequiredCapabilities map[string]int `json:"requiredCapabilities,omitempty"`
	Budget               *budgetRequest `json:"budget,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	Surface              string         `json:"surface,omitempty"`
}

type budgetRequest struct {
	MaxFiles int `json:"maxFiles" validate:"omitempty,min=1"`
	MaxLoc   int `json:"maxLoc" validate:"omitempty,min=1"`
}

// registerComponentRequest is the wire shape of POST /v1/components.
type registerComponentRequest struct {
	ID                 string         `json:"id" validate:"required"`
	Type               string         `json:"type" validate:"required,oneof=agent-registry task-router policy-validator performance-tracker orchestrator constitutional-runtime"`
	Endpoint           string         `json:"endpoint" validate:"required,url"`
	Capabilities       map[string]int `json:"capabilities,omitempty"`
	Dependencies       []string       `json:"dependencies,omitempty"`
	MaxConcurrentTasks int            `json:"maxConcurrentTasks,omitempty"`
	SupportedTaskTypes []string       `json:"supportedTaskTypes,omitempty"`
}

// taskResponse is what the intake pipeline reports back for a
// submission, regardless of accept/reject outcome.
type taskResponse struct {
	Status   string   `json:"status"`
	TaskID   string   `json:"taskId,omitempty"`
	State    string   `json:"state,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// statsResponse is the /v1/stats payload: coordinator component counts
// plus dispatch's task-lifecycle tally.
type statsResponse struct {
	Components componentStats `json:"components"`
	Tasks      taskStats      `json:"tasks"`
}

type componentStats struct {
	Registered int `json:"registered"`
	Healthy    int `json:"healthy"`
	Degraded   int `json:"degraded"`
	Unhealthy  int `json:"unhealthy"`
	Unknown    int `json:"unknown"`
}

// reportProgressRequest is the wire shape of POST /v1/tasks/{id}/progress.
type reportProgressRequest struct {
	FilesChanged int `json:"filesChanged" validate:"min=0"`
	LinesChanged int `json:"linesChanged" validate:"min=0"`
}

// failTaskRequest is the wire shape of POST /v1/tasks/{id}/fail.
type failTaskRequest struct {
	Retry bool `json:"retry"`
}

// completeTaskResponse reports the terminal state Complete reached and
// the verdict that drove it, when an arbiter is wired.
type completeTaskResponse struct {
	TaskID  string   `json:"taskId"`
	State   string   `json:"state"`
	Verdict *verdict `json:"verdict,omitempty"`
}

type verdict struct {
	ID         string  `json:"id"`
	Outcome    string  `json:"outcome"`
	Confidence float64 `json:"confidence"`
}

// routeRequestBody is the wire shape of POST /v1/route.
type routeRequestBody struct {
	RequestType        string   `json:"requestType" validate:"required"`
	TaskType           string   `json:"taskType,omitempty"`
	PreferredComponent string   `json:"preferredComponent,omitempty"`
	AvoidComponents    []string `json:"avoidComponents,omitempty"`
	MaxLoad            int      `json:"maxLoad,omitempty"`
	Location           string   `json:"location,omitempty"`
	Capabilities       []string `json:"capabilities,omitempty"`
}

// completeRouteRequest is the wire shape of POST /v1/route/{id}/complete.
// The caller carries the selected component id forward from routeResponse
// since the decision id alone doesn't identify which candidate was used.
type completeRouteRequest struct {
	SelectedID string `json:"selectedId" validate:"required"`
	ElapsedMs  int64  `json:"elapsedMs" validate:"min=0"`
}

// routeResponse mirrors coordinator.RoutingDecision over the wire.
type routeResponse struct {
	ID           string   `json:"id"`
	SelectedID   string   `json:"selectedId"`
	Confidence   float64  `json:"confidence"`
	Strategy     string   `json:"strategy"`
	Reason       string   `json:"reason"`
	Alternatives []string `json:"alternatives,omitempty"`
}

type taskStats struct {
	Queued     int `json:"queued"`
	Assigned   int `json:"assigned"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	TimedOut   int `json:"timedOut"`
}
