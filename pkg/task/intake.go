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

package task

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/darianrosebrook/agent-agency/internal/config"
)

// Envelope is the raw submission spec.md §4.1's intake contract accepts.
type Envelope struct {
	Payload       any // string, []byte, or a structured object (map[string]any)
	ContentType   string
	Encoding      string
	PriorityHint  *int
	Surface       string
}

// IntakeResult is what process(envelope) returns.
type IntakeResult struct {
	Status   string // "accepted" | "rejected"
	Task     *Task
	Chunks   []string
	Errors   []Issue
	Warnings []Issue
}

var textContentTypes = []string{"json", "xml", "yaml", "javascript", "text/"}

func looksLikeText(contentType string) bool {
	if contentType == "" {
		return false
	}
	ct := strings.ToLower(contentType)
	for _, marker := range textContentTypes {
		if strings.Contains(ct, marker) {
			return true
		}
	}
	return false
}

// rawPayloadBytes extracts a byte view of the envelope payload, and
// whether the payload was already a structured object (so JSON
// deserialization can be skipped).
func rawPayloadBytes(payload any) (data []byte, isObject bool, ok bool) {
	switch v := payload.(type) {
	case nil:
		return nil, false, false
	case string:
		if v == "" {
			return nil, false, false
		}
		return []byte(v), false, true
	case []byte:
		if len(v) == 0 {
			return nil, false, false
		}
		return v, false, true
	case map[string]any:
		return nil, true, true
	default:
		// Any other structured Go value (e.g. a pre-built Task-shaped
		// struct) passes through as an object.
		return nil, true, true
	}
}

func binarySample(data []byte, sampleBytes int) []byte {
	if sampleBytes <= 0 || sampleBytes > len(data) {
		return data
	}
	return data[:sampleBytes]
}

// isBinary implements spec.md §4.1 step 3.
func isBinary(data []byte, cfg config.BinaryDetectionConfig) bool {
	if !cfg.Enabled {
		return false
	}
	sample := binarySample(data, cfg.SampleBytes)
	for _, b := range sample {
		if b == 0x00 {
			return true
		}
	}
	if len(sample) == 0 {
		return false
	}
	nonText := 0
	for _, b := range sample {
		switch {
		case b == '\t' || b == '\n' || b == '\r':
		case b >= 32 && b <= 126:
		case b >= 128:
		default:
			nonText++
		}
	}
	threshold := cfg.NonTextThreshold
	if threshold <= 0 {
		threshold = 0.30
	}
	return float64(nonText)/float64(len(sample)) > threshold
}

func truncateToBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Back off to a rune boundary.
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func coerceType(raw string) (Type, bool) {
	t := Type(raw)
	return t, validType(t)
}

func coercePriority(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

func getString(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// Process runs the full intake pipeline of spec.md §4.1 and returns a
// structured accept/reject result — never an error, per spec.md §7
// ("intake errors are surfaced as an accept/reject result, never
// thrown").
func Process(env Envelope, cfg *config.IntakeConfig, now func() time.Time) *IntakeResult {
	if now == nil {
		now = time.Now
	}
	result := &IntakeResult{}

	// Step 1: empty-payload check.
	data, isObject, nonEmpty := rawPayloadBytes(env.Payload)
	if !nonEmpty {
		result.Errors = append(result.Errors, Issue{Code: "EMPTY_PAYLOAD", Message: "payload is absent or empty"})
		result.Status = "rejected"
		return result
	}

	maxDescriptionBytes := cfg.MaxDescriptionBytes
	if maxDescriptionBytes <= 0 {
		maxDescriptionBytes = 256 * 1024
	}

	// Step 3: binary detection (skipped for text-like content types and
	// for already-structured payloads).
	if !isObject && !looksLikeText(env.ContentType) {
		if isBinary(data, cfg.BinaryDetection) {
			result.Errors = append(result.Errors, Issue{Code: "BINARY_PAYLOAD", Message: "payload sampled as binary content"})
			result.Status = "rejected"
			return result
		}
	}

	// Step 4: JSON deserialization.
	fields := map[string]any{}
	if isObject {
		if m, ok := env.Payload.(map[string]any); ok {
			fields = m
		}
	} else {
		if err := json.Unmarshal(data, &fields); err != nil {
			result.Errors = append(result.Errors, Issue{Code: "MALFORMED_JSON", Message: err.Error()})
			result.Status = "rejected"
			return result
		}
	}

	// Step 2: size clamp (applied to the description field once parsed).
	if desc, ok := getString(fields, "description"); ok && len(desc) > maxDescriptionBytes {
		result.Warnings = append(result.Warnings, Issue{Code: "DESCRIPTION_OVERSIZED", Message: "description exceeded maxDescriptionBytes and was truncated", Field: "description"})
		fields["description"] = truncateToBytes(desc, maxDescriptionBytes)
	}

	// Step 5: required-field check.
	id, idOK := getString(fields, "id")
	if !idOK {
		result.Errors = append(result.Errors, Issue{Code: "MISSING_REQUIRED_FIELD", Message: "id is required", Field: "id"})
	}
	typeRaw, typeOK := getString(fields, "type")
	if !typeOK {
		result.Errors = append(result.Errors, Issue{Code: "MISSING_REQUIRED_FIELD", Message: "type is required", Field: "type"})
	}
	description, descOK := getString(fields, "description")
	if !descOK {
		result.Errors = append(result.Errors, Issue{Code: "MISSING_REQUIRED_FIELD", Message: "description is required", Field: "description"})
	}

	// Step 6: normalization.
	t := &Task{ID: id, MaxAttempts: 3}

	if typeOK {
		if coerced, ok := coerceType(typeRaw); ok {
			t.Type = coerced
		} else {
			t.Type = TypeAnalysis
		}
	} else {
		t.Type = TypeAnalysis
	}

	t.Description = description

	priority := 5
	if env.PriorityHint != nil {
		priority = *env.PriorityHint
	} else if v, ok := fields["priority"]; ok {
		if p, ok := coercePriority(v); ok {
			priority = p
		}
	}
	if priority < 1 || priority > 10 {
		priority = 5
	}
	t.Priority = priority

	t.Timeout = 5 * time.Minute
	if v, ok := fields["timeout"]; ok {
		if s, ok := v.(string); ok {
			if d, err := time.ParseDuration(s); err == nil && d > 0 {
				t.Timeout = d
			}
		}
	}

	t.Budget = Budget{MaxFiles: 10, MaxLoc: 500}
	if b, ok := fields["budget"].(map[string]any); ok {
		if mf, ok := coercePriority(b["maxFiles"]); ok && mf >= 1 {
			t.Budget.MaxFiles = mf
		}
		if ml, ok := coercePriority(b["maxLoc"]); ok && ml >= 1 {
			t.Budget.MaxLoc = ml
		}
	}

	t.Attempts = 0
	if v, ok := fields["attempts"]; ok {
		if n, ok := coercePriority(v); ok && n >= 0 {
			t.Attempts = n
		}
	}
	if v, ok := fields["maxAttempts"]; ok {
		if n, ok := coercePriority(v); ok && n >= 1 {
			t.MaxAttempts = n
		}
	}

	if s, ok := getString(fields, "createdAt"); ok {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			t.CreatedAt = ts
		}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now()
		result.Warnings = append(result.Warnings, Issue{Code: "CREATED_AT_NORMALIZED", Message: "createdAt defaulted to now", Field: "createdAt"})
	}

	t.Surface = env.Surface
	if t.Surface == "" {
		if s, ok := getString(fields, "surface"); ok {
			t.Surface = s
		}
	}
	if t.Surface == "" {
		t.Surface = "unknown"
		result.Warnings = append(result.Warnings, Issue{Code: "SURFACE_DEFAULTED", Message: "surface defaulted to unknown", Field: "surface"})
	}

	if md, ok := fields["metadata"].(map[string]any); ok {
		t.Metadata = md
	}
	if rc, ok := fields["requiredCapabilities"].(map[string]any); ok {
		caps := make(map[string]int, len(rc))
		for name, v := range rc {
			if level, ok := coercePriority(v); ok {
				caps[name] = level
			}
		}
		if len(caps) > 0 {
			t.RequiredCapabilities = caps
		}
	}
	t.Payload = fields["payload"]
	t.State = StatePending

	// Step 7: domain validation.
	domain := Validate(t)
	result.Errors = append(result.Errors, domain.Errors...)
	result.Warnings = append(result.Warnings, domain.Warnings...)

	// Step 8: UTF-8 chunking.
	chunkSize := cfg.ChunkSizeBytes
	if chunkSize <= 0 {
		chunkSize = 5 * 1024
	}
	chunks := ChunkDescription(t.Description, chunkSize)
	result.Chunks = chunks
	if len(chunks) > 1 {
		result.Warnings = append(result.Warnings, Issue{Code: "DESCRIPTION_CHUNKED", Message: "description split across multiple chunks", Field: "description"})
	}

	// Step 9: submission.
	if len(result.Errors) > 0 {
		result.Status = "rejected"
		return result
	}
	result.Status = "accepted"
	result.Task = t
	return result
}
