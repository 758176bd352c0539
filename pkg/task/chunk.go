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

import "unicode/utf8"

// ChunkDescription splits s into code-point-safe chunks of at most
// maxBytes UTF-8 bytes each, per spec.md §4.1 step 8. A single code
// point whose UTF-8 encoding exceeds maxBytes is placed in its own
// chunk rather than being split mid-encoding.
func ChunkDescription(s string, maxBytes int) []string {
	if maxBytes <= 0 {
		maxBytes = 1
	}
	if len(s) <= maxBytes {
		if s == "" {
			return nil
		}
		return []string{s}
	}

	var chunks []string
	start := 0
	curLen := 0
	for i := 0; i < len(s); {
		_, size := utf8.DecodeRuneInString(s[i:])
		if curLen > 0 && curLen+size > maxBytes {
			chunks = append(chunks, s[start:i])
			start = i
			curLen = 0
		}
		curLen += size
		i += size
	}
	if start < len(s) {
		chunks = append(chunks, s[start:])
	}
	return chunks
}
