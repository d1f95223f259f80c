/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package result

import (
	"fmt"
	"strings"
)

// ValidationError reports a model or configuration response that does not
// have the expected structure. It is never retried.
type ValidationError struct {
	// Subject names what was being decoded, e.g. "test plan".
	Subject string
	// Problems lists each structural violation found.
	Problems []string
	// Err is the underlying decode error, if decoding itself failed.
	Err error
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "invalid %s", e.Subject)
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	if len(e.Problems) > 0 {
		sb.WriteString(": ")
		sb.WriteString(strings.Join(e.Problems, "; "))
	}
	return sb.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validator is implemented by response types that can check their own shape
// after unmarshaling. It returns one message per violation.
type Validator interface {
	Validate() []string
}

// Decode extracts and unmarshals text into T and, when T (or *T) implements
// Validator, checks it. Any failure is returned as a *ValidationError.
func Decode[T any](subject, text string) (T, error) {
	out, err := Extract[T](text)
	if err != nil {
		return out, &ValidationError{Subject: subject, Err: err}
	}
	if v, ok := any(&out).(Validator); ok {
		if problems := v.Validate(); len(problems) > 0 {
			return out, &ValidationError{Subject: subject, Problems: problems}
		}
	}
	return out, nil
}
