/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// ExecutionContext identifies which review, and which part of it, an agent
// run belongs to.
type ExecutionContext struct {
	ReviewID   string `json:"review_id,omitempty"`
	Repository string `json:"repository,omitempty"` // owner/name
	PRNumber   int    `json:"pr_number,omitempty"`
	CommitSHA  string `json:"commit_sha,omitempty"`
	Phase      string `json:"phase,omitempty"`       // generate, setup or execute
	TestNumber int    `json:"test_number,omitempty"` // 1-based; 0 outside execute
}

// EnrichAttributes appends the bounded-cardinality fields (phase and
// repository) to attrs. Review ids, PR numbers and shas stay on spans only.
func (e ExecutionContext) EnrichAttributes(attrs []attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs), len(attrs)+2)
	copy(out, attrs)
	if e.Phase != "" {
		out = append(out, attribute.String("phase", e.Phase))
	}
	if e.Repository != "" {
		out = append(out, attribute.String("repository", e.Repository))
	}
	return out
}

// spanAttributes returns every non-empty field, for use on trace spans.
func (e ExecutionContext) spanAttributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if e.ReviewID != "" {
		attrs = append(attrs, attribute.String("review.id", e.ReviewID))
	}
	if e.Repository != "" {
		attrs = append(attrs, attribute.String("review.repository", e.Repository))
	}
	if e.PRNumber != 0 {
		attrs = append(attrs, attribute.Int("review.pr", e.PRNumber))
	}
	if e.CommitSHA != "" {
		attrs = append(attrs, attribute.String("review.commit_sha", e.CommitSHA))
	}
	if e.Phase != "" {
		attrs = append(attrs, attribute.String("review.phase", e.Phase))
	}
	if e.TestNumber != 0 {
		attrs = append(attrs, attribute.Int("review.test_number", e.TestNumber))
	}
	return attrs
}

type executionContextKey struct{}

// WithExecutionContext stores ec on ctx.
func WithExecutionContext(ctx context.Context, ec ExecutionContext) context.Context {
	return context.WithValue(ctx, executionContextKey{}, ec)
}

// GetExecutionContext returns the ExecutionContext on ctx, or the zero value.
func GetExecutionContext(ctx context.Context) ExecutionContext {
	ec, _ := ctx.Value(executionContextKey{}).(ExecutionContext)
	return ec
}
