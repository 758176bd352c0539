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
	"time"

	"github.com/darianrosebrook/agent-agency/internal/config"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func hasCode(issues []Issue, code string) bool {
	for _, i := range issues {
		if i.Code == code {
			return true
		}
	}
	return false
}

var _ = Describe("Intake Pipeline", func() {
	var cfg *config.IntakeConfig

	BeforeEach(func() {
		cfg = &config.Default().Intake
	})

	Context("BR-SCENARIO-1: trivial-task happy path", func() {
		It("accepts a minimal well-formed submission", func() {
			env := Envelope{
				Payload:     `{"id": "T-1", "type": "analysis", "description": "hello", "priority": 5}`,
				ContentType: "application/json",
			}
			result := Process(env, cfg, time.Now)

			Expect(result.Status).To(Equal("accepted"))
			Expect(result.Chunks).To(HaveLen(1))
			Expect(result.Task.State).To(Equal(StatePending))
			Expect(result.Task.Priority).To(Equal(5))
		})
	})

	Context("requiredCapabilities parsing", func() {
		It("coerces the submitted capability-level map onto the task", func() {
			env := Envelope{
				Payload:     `{"id": "T-caps", "type": "code-review", "description": "review", "requiredCapabilities": {"code-review": 2}}`,
				ContentType: "application/json",
			}
			result := Process(env, cfg, time.Now)

			Expect(result.Status).To(Equal("accepted"))
			Expect(result.Task.RequiredCapabilities).To(Equal(map[string]int{"code-review": 2}))
		})

		It("leaves RequiredCapabilities nil when the field is absent", func() {
			env := Envelope{
				Payload:     `{"id": "T-nocaps", "type": "analysis", "description": "no caps"}`,
				ContentType: "application/json",
			}
			result := Process(env, cfg, time.Now)

			Expect(result.Status).To(Equal("accepted"))
			Expect(result.Task.RequiredCapabilities).To(BeNil())
		})
	})

	Context("BR-SCENARIO-2: binary rejection", func() {
		It("rejects a payload whose first byte is NUL", func() {
			env := Envelope{
				Payload:     []byte{0x00, 0x01, 0x02, 0x03},
				ContentType: "application/octet-stream",
			}
			result := Process(env, cfg, time.Now)

			Expect(result.Status).To(Equal("rejected"))
			Expect(hasCode(result.Errors, "BINARY_PAYLOAD")).To(BeTrue())
			Expect(result.Task).To(BeNil())
		})
	})

	Context("empty payload", func() {
		It("rejects a zero-byte payload with EMPTY_PAYLOAD", func() {
			result := Process(Envelope{Payload: ""}, cfg, time.Now)
			Expect(result.Status).To(Equal("rejected"))
			Expect(hasCode(result.Errors, "EMPTY_PAYLOAD")).To(BeTrue())
		})
	})

	Context("malformed JSON", func() {
		It("rejects an unparsable string payload", func() {
			result := Process(Envelope{Payload: `{"id": "T-1",`}, cfg, time.Now)
			Expect(result.Status).To(Equal("rejected"))
			Expect(hasCode(result.Errors, "MALFORMED_JSON")).To(BeTrue())
		})
	})

	Context("missing required fields", func() {
		It("rejects a payload missing description", func() {
			result := Process(Envelope{Payload: `{"id": "T-1", "type": "analysis"}`}, cfg, time.Now)
			Expect(result.Status).To(Equal("rejected"))
			Expect(hasCode(result.Errors, "MISSING_REQUIRED_FIELD")).To(BeTrue())
		})
	})

	Context("normalization", func() {
		It("defaults an unknown type to analysis and clamps priority out of range", func() {
			result := Process(Envelope{
				Payload: `{"id": "T-1", "type": "unknown-type", "description": "x", "priority": 99}`,
			}, cfg, time.Now)

			Expect(result.Status).To(Equal("accepted"))
			Expect(result.Task.Type).To(Equal(TypeAnalysis))
			Expect(result.Task.Priority).To(Equal(5))
		})

		It("defaults surface to unknown and warns", func() {
			result := Process(Envelope{
				Payload: `{"id": "T-1", "type": "analysis", "description": "x"}`,
			}, cfg, time.Now)

			Expect(result.Status).To(Equal("accepted"))
			Expect(result.Task.Surface).To(Equal("unknown"))
			Expect(hasCode(result.Warnings, "SURFACE_DEFAULTED")).To(BeTrue())
		})

		It("warns when createdAt is defaulted to now", func() {
			result := Process(Envelope{
				Payload: `{"id": "T-1", "type": "analysis", "description": "x"}`,
			}, cfg, time.Now)

			Expect(hasCode(result.Warnings, "CREATED_AT_NORMALIZED")).To(BeTrue())
			Expect(result.Task.CreatedAt.IsZero()).To(BeFalse())
		})
	})

	Context("chunking", func() {
		It("produces a single chunk at exactly chunkSizeBytes", func() {
			small := *cfg
			small.ChunkSizeBytes = 16
			desc := "0123456789abcdef" // exactly 16 bytes
			env := Envelope{Payload: map[string]any{
				"id": "T-1", "type": "analysis", "description": desc,
			}}
			result := Process(env, &small, time.Now)
			Expect(result.Status).To(Equal("accepted"))
			Expect(result.Chunks).To(HaveLen(1))
			Expect(hasCode(result.Warnings, "DESCRIPTION_CHUNKED")).To(BeFalse())
		})

		It("produces two chunks one byte over chunkSizeBytes", func() {
			small := *cfg
			small.ChunkSizeBytes = 16
			desc := "0123456789abcdefg" // 17 bytes
			env := Envelope{Payload: map[string]any{
				"id": "T-1", "type": "analysis", "description": desc,
			}}
			result := Process(env, &small, time.Now)
			Expect(result.Status).To(Equal("accepted"))
			Expect(result.Chunks).To(HaveLen(2))
			Expect(hasCode(result.Warnings, "DESCRIPTION_CHUNKED")).To(BeTrue())
		})
	})

	Context("round-trip idempotence", func() {
		It("re-submitting the sanitized task yields the same accepted task", func() {
			first := Process(Envelope{
				Payload: `{"id": "T-1", "type": "analysis", "description": "hello", "priority": 7}`,
			}, cfg, time.Now)
			Expect(first.Status).To(Equal("accepted"))

			resubmit := map[string]any{
				"id":          first.Task.ID,
				"type":        string(first.Task.Type),
				"description": first.Task.Description,
				"priority":    float64(first.Task.Priority),
				"createdAt":   first.Task.CreatedAt.Format(time.RFC3339),
			}
			second := Process(Envelope{Payload: resubmit}, cfg, time.Now)

			Expect(second.Status).To(Equal("accepted"))
			Expect(second.Task.ID).To(Equal(first.Task.ID))
			Expect(second.Task.Type).To(Equal(first.Task.Type))
			Expect(second.Task.Description).To(Equal(first.Task.Description))
			Expect(second.Task.Priority).To(Equal(first.Task.Priority))
		})
	})
})
