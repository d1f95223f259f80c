/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package result turns free-text model completions into typed values.
//
// Every completion is untrusted input: Decode extracts the JSON payload,
// unmarshals it and runs the type's own structural checks, reporting any
// mismatch as a *ValidationError.
package result

import (
	"encoding/json"
	"strings"
)

// ExtractJSON returns the JSON payload of a completion. It prefers the body
// of the first ```json fenced block, then any fenced block, and finally the
// outermost {...} or [...] span of the text.
func ExtractJSON(text string) string {
	if body, ok := fenced(text, "```json"); ok {
		return body
	}
	if body, ok := fenced(text, "```"); ok {
		return body
	}

	text = strings.TrimSpace(text)
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(text, pair[0])
		end := strings.LastIndexByte(text, pair[1])
		if start >= 0 && end > start {
			// Only trim when the span isn't already the whole text.
			if start > 0 || end < len(text)-1 {
				return text[start : end+1]
			}
			return text
		}
	}
	return text
}

// fenced returns the content between a line starting with marker and the
// next line consisting of ``` alone.
func fenced(text, marker string) (string, bool) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != marker {
			continue
		}
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == "```" {
				return strings.TrimSpace(strings.Join(lines[i+1:j], "\n")), true
			}
		}
		// Unterminated fence: take the rest.
		return strings.TrimSpace(strings.Join(lines[i+1:], "\n")), true
	}
	return "", false
}

// Extract unmarshals the JSON payload of text into T.
func Extract[T any](text string) (T, error) {
	var out T
	err := json.Unmarshal([]byte(ExtractJSON(text)), &out)
	return out, err
}
