/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package agenttrace records agent runs and their tool calls as
// OpenTelemetry spans, and hands completed traces to a pluggable Tracer.
package agenttrace

import (
	"context"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"
)

// Tracer creates traces and receives them once complete.
type Tracer[T any] interface {
	NewTrace(ctx context.Context, prompt string) *Trace[T]
	RecordTrace(trace *Trace[T])
}

// Callback receives completed traces.
type Callback[T any] func(*Trace[T])

type byCode[T any] struct {
	callbacks []Callback[T]
}

// ByCode returns a Tracer that invokes every callback, concurrently, when a
// trace completes.
func ByCode[T any](callbacks ...Callback[T]) Tracer[T] {
	return &byCode[T]{callbacks: callbacks}
}

func (b *byCode[T]) NewTrace(ctx context.Context, prompt string) *Trace[T] {
	return newTrace[T](ctx, b, prompt)
}

func (b *byCode[T]) RecordTrace(trace *Trace[T]) {
	var g errgroup.Group
	for _, cb := range b.callbacks {
		if cb == nil {
			continue
		}
		g.Go(func() error {
			cb(trace)
			return nil
		})
	}
	_ = g.Wait()
}

// NewDefaultTracer returns a Tracer that logs each completed trace.
func NewDefaultTracer[T any](ctx context.Context) Tracer[T] {
	log := clog.FromContext(ctx)
	return ByCode(func(trace *Trace[T]) {
		log.With("trace_id", trace.ID).
			With("duration_ms", trace.Duration().Milliseconds()).
			With("tool_calls", len(trace.ToolCalls)).
			Info("Agent trace completed", "trace", trace.String())
	})
}

type tracerKey[T any] struct{}

// WithTracer stores tracer on ctx.
func WithTracer[T any](ctx context.Context, tracer Tracer[T]) context.Context {
	return context.WithValue(ctx, tracerKey[T]{}, tracer)
}

// TracerFromContext returns the Tracer on ctx, or a default logging tracer.
func TracerFromContext[T any](ctx context.Context) Tracer[T] {
	if t, ok := ctx.Value(tracerKey[T]{}).(Tracer[T]); ok {
		return t
	}
	return NewDefaultTracer[T](ctx)
}

// StartTrace starts a trace with the Tracer on ctx.
func StartTrace[T any](ctx context.Context, prompt string) *Trace[T] {
	return TracerFromContext[T](ctx).NewTrace(ctx, prompt)
}
