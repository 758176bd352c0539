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

package resilience

import (
	"bytes"
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Streaming JSON Parser", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("decodes a small payload directly without chunking", func() {
		parser := NewStreamParser(DefaultStreamParserConfig(), nil)
		result, err := parser.Parse(ctx, []byte(`{"a": 1}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(result["a"]).To(BeNumerically("==", 1))
	})

	It("chunks a payload above the threshold and emits one chunkProcessed event per chunk", func() {
		cfg := DefaultStreamParserConfig()
		cfg.ChunkThreshold = 16
		cfg.ChunkSize = 8

		var events []ChunkEvent
		parser := NewStreamParser(cfg, func(e ChunkEvent) { events = append(events, e) })

		var buf bytes.Buffer
		buf.WriteString(`{"value": "`)
		for i := 0; i < 40; i++ {
			buf.WriteByte('x')
		}
		buf.WriteString(`"}`)

		result, err := parser.Parse(ctx, buf.Bytes())
		Expect(err).NotTo(HaveOccurred())
		Expect(result["value"]).To(HaveLen(40))
		Expect(len(events)).To(BeNumerically(">", 1))

		total := 0
		for _, e := range events {
			total += e.BytesRead
		}
		Expect(total).To(Equal(buf.Len()))
	})

	It("rejects a payload exceeding maxTotalSize before attempting to parse", func() {
		cfg := DefaultStreamParserConfig()
		cfg.MaxTotalSize = 4
		parser := NewStreamParser(cfg, nil)
		_, err := parser.Parse(ctx, []byte(`{"a": 1}`))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("PAYLOAD_TOO_LARGE"))
	})

	It("rejects an obviously invalid prefix early", func() {
		parser := NewStreamParser(DefaultStreamParserConfig(), nil)
		_, err := parser.Parse(ctx, []byte(`not json at all`))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("INVALID_PREFIX"))
	})

	It("rejects a trailing comma before a closing brace", func() {
		parser := NewStreamParser(DefaultStreamParserConfig(), nil)
		_, err := parser.Parse(ctx, []byte(`{"a": 1, "b": 2,}`))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("TRAILING_COMMA"))
	})

	It("does not reject a comma that separates a string value containing a comma-like pattern", func() {
		parser := NewStreamParser(DefaultStreamParserConfig(), nil)
		result, err := parser.Parse(ctx, []byte(`{"a": "x, y", "b": 2}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(result["a"]).To(Equal("x, y"))
	})

	It("returns a MALFORMED_JSON error, not a panic, on genuine syntax errors", func() {
		parser := NewStreamParser(DefaultStreamParserConfig(), nil)
		_, err := parser.Parse(ctx, []byte(`{"a": }`))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("MALFORMED_JSON"))
	})

	It("hard-stops at the parse deadline for a pathologically slow chunk walk", func() {
		cfg := DefaultStreamParserConfig()
		cfg.ChunkThreshold = 0
		cfg.ChunkSize = 1
		cfg.ParseDeadline = 0
		parser := NewStreamParser(cfg, nil)

		payload := []byte(fmt.Sprintf(`{"a": %q}`, bytes.Repeat([]byte("x"), 1024)))
		_, err := parser.Parse(ctx, payload)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("PARSE_DEADLINE_EXCEEDED"))
	})
})
