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
	"encoding/json"
	"time"

	apperrors "github.com/darianrosebrook/agent-agency/internal/errors"
)

// StreamParserConfig controls when and how a payload is chunked before
// JSON-decoding it, per spec.md §4.5.
type StreamParserConfig struct {
	ChunkThreshold int
	ChunkSize      int
	MaxTotalSize   int
	ParseDeadline  time.Duration
}

// DefaultStreamParserConfig matches spec.md §4.5's literal defaults.
func DefaultStreamParserConfig() StreamParserConfig {
	return StreamParserConfig{
		ChunkThreshold: 5 * 1024,
		ChunkSize:      8 * 1024,
		MaxTotalSize:   10 * 1024 * 1024,
		ParseDeadline:  30 * time.Second,
	}
}

// ChunkEvent is emitted once per chunk processed while parsing a
// payload above ChunkThreshold.
type ChunkEvent struct {
	Index      int
	BytesRead  int
	TotalBytes int
}

// StreamParser decodes a JSON payload, chunking the read for payloads
// above its configured threshold and emitting a ChunkEvent per chunk.
type StreamParser struct {
	cfg     StreamParserConfig
	onChunk func(ChunkEvent)
}

// NewStreamParser returns a parser. onChunk may be nil.
func NewStreamParser(cfg StreamParserConfig, onChunk func(ChunkEvent)) *StreamParser {
	return &StreamParser{cfg: cfg, onChunk: onChunk}
}

// Parse decodes payload into a generic JSON document. On any failure —
// oversize payload, parse deadline exceeded, obviously invalid prefix,
// trailing comma, or a genuine JSON syntax error — the buffer is
// discarded and the error is returned as a value, never panicked.
func (p *StreamParser) Parse(ctx context.Context, payload []byte) (map[string]any, error) {
	if len(payload) > p.cfg.MaxTotalSize {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "PAYLOAD_TOO_LARGE").WithDetailsf("size=%d max=%d", len(payload), p.cfg.MaxTotalSize)
	}

	if err := rejectObviouslyInvalid(payload); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if len(payload) <= p.cfg.ChunkThreshold {
		buf.Write(payload)
	} else {
		deadline, cancel := context.WithTimeout(ctx, p.cfg.ParseDeadline)
		defer cancel()

		chunkSize := p.cfg.ChunkSize
		if chunkSize <= 0 {
			chunkSize = len(payload)
		}
		for i, index := 0, 0; i < len(payload); i += chunkSize {
			select {
			case <-deadline.Done():
				buf.Reset()
				return nil, apperrors.New(apperrors.ErrorTypeTimeout, "PARSE_DEADLINE_EXCEEDED")
			default:
			}
			end := i + chunkSize
			if end > len(payload) {
				end = len(payload)
			}
			buf.Write(payload[i:end])
			index++
			if p.onChunk != nil {
				p.onChunk(ChunkEvent{Index: index, BytesRead: end - i, TotalBytes: buf.Len()})
			}
		}
	}

	var result map[string]any
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		buf.Reset()
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "MALFORMED_JSON")
	}
	return result, nil
}

// rejectObviouslyInvalid implements the early-rejection pass: a
// payload whose first non-whitespace byte cannot start a JSON value,
// or that contains a trailing comma immediately before a closing
// bracket or brace, is rejected before any decode attempt.
func rejectObviouslyInvalid(payload []byte) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return apperrors.New(apperrors.ErrorTypeValidation, "EMPTY_PAYLOAD")
	}
	switch trimmed[0] {
	case '{', '[', '"', '-', 't', 'f', 'n', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
	default:
		return apperrors.New(apperrors.ErrorTypeValidation, "INVALID_PREFIX").WithDetailsf("byte=%q", trimmed[0])
	}

	inString := false
	escaped := false
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			continue
		}
		if c != ',' {
			continue
		}
		j := i + 1
		for j < len(trimmed) && isJSONSpace(trimmed[j]) {
			j++
		}
		if j < len(trimmed) && (trimmed[j] == '}' || trimmed[j] == ']') {
			return apperrors.New(apperrors.ErrorTypeValidation, "TRAILING_COMMA")
		}
	}
	return nil
}

func isJSONSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
