/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package params extracts typed arguments from the loosely typed maps that
// models send as tool-call arguments.
package params

import (
	"fmt"
	"maps"
)

// Extract returns the required argument name converted to T.
func Extract[T any](args map[string]any, name string) (T, error) {
	var zero T
	value, ok := args[name]
	if !ok || value == nil {
		return zero, fmt.Errorf("%s parameter is required", name)
	}
	if v, ok := convert[T](value); ok {
		return v, nil
	}
	return zero, fmt.Errorf("%s parameter must be of type %T, got %T", name, zero, value)
}

// ExtractOptional returns the argument name converted to T, or def when absent.
func ExtractOptional[T any](args map[string]any, name string, def T) (T, error) {
	value, ok := args[name]
	if !ok || value == nil {
		return def, nil
	}
	if v, ok := convert[T](value); ok {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("%s parameter must be of type %T, got %T", name, zero, value)
}

// convert handles direct assertions plus the shapes encoding/json produces:
// float64 for every number and []any for every array.
func convert[T any](value any) (T, bool) {
	if v, ok := value.(T); ok {
		return v, true
	}
	var zero T
	switch any(zero).(type) {
	case int:
		if f, ok := value.(float64); ok {
			return any(int(f)).(T), true
		}
	case int64:
		if f, ok := value.(float64); ok {
			return any(int64(f)).(T), true
		}
	case float64:
		if i, ok := value.(int); ok {
			return any(float64(i)).(T), true
		}
	case []string:
		items, ok := value.([]any)
		if !ok {
			return zero, false
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return zero, false
			}
			out = append(out, s)
		}
		return any(out).(T), true
	case []int:
		items, ok := value.([]any)
		if !ok {
			return zero, false
		}
		out := make([]int, 0, len(items))
		for _, item := range items {
			f, ok := item.(float64)
			if !ok {
				return zero, false
			}
			out = append(out, int(f))
		}
		return any(out).(T), true
	}
	return zero, false
}

// Error builds the observation returned to the model for a failed call.
func Error(format string, args ...any) map[string]any {
	return map[string]any{"error": fmt.Sprintf(format, args...)}
}

// ErrorWithContext is Error with extra observation fields.
func ErrorWithContext(err error, extra map[string]any) map[string]any {
	out := map[string]any{"error": err.Error()}
	maps.Copy(out, extra)
	return out
}
