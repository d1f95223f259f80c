/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentation = "chainguard.dev/vibepr/agents/agenttrace"

func tracer() oteltrace.Tracer {
	return otel.Tracer(instrumentation, oteltrace.WithInstrumentationVersion("1.0.0"))
}

// ToolCall is one tool invocation inside a trace.
type ToolCall[T any] struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Params    map[string]any `json:"params"`
	Result    any            `json:"result"`
	Error     error          `json:"error,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`

	trace *Trace[T]
	span  oteltrace.Span
	once  sync.Once
}

// Trace records one agent run from prompt to outcome.
type Trace[T any] struct {
	ID          string           `json:"id"`
	InputPrompt string           `json:"input_prompt"`
	ExecContext ExecutionContext `json:"exec_context,omitempty"`
	ToolCalls   []*ToolCall[T]   `json:"tool_calls"`
	Result      T                `json:"result"`
	Error       error            `json:"error,omitempty"`
	StartTime   time.Time        `json:"start_time"`
	EndTime     time.Time        `json:"end_time"`

	tracer Tracer[T]
	ctx    context.Context
	span   oteltrace.Span
	mu     sync.Mutex
}

func newTrace[T any](ctx context.Context, tr Tracer[T], prompt string) *Trace[T] {
	ec := GetExecutionContext(ctx)
	ctx, span := tracer().Start(ctx, "agent.execution",
		oteltrace.WithAttributes(ec.spanAttributes()...),
		oteltrace.WithAttributes(attribute.Int("agent.prompt_length", len(prompt))))

	return &Trace[T]{
		ID:          newTraceID(),
		InputPrompt: prompt,
		ExecContext: ec,
		StartTime:   time.Now(),
		tracer:      tr,
		ctx:         ctx,
		span:        span,
	}
}

// Context returns the trace's context, which carries its span.
func (t *Trace[T]) Context() context.Context { return t.ctx }

// StartToolCall opens a child span for a tool invocation.
func (t *Trace[T]) StartToolCall(id, name string, params map[string]any) *ToolCall[T] {
	_, span := tracer().Start(t.ctx, "agent.tool_call", oteltrace.WithAttributes(
		attribute.String("tool.name", name),
		attribute.String("tool.id", id),
	))
	return &ToolCall[T]{
		ID:        id,
		Name:      name,
		Params:    params,
		StartTime: time.Now(),
		trace:     t,
		span:      span,
	}
}

// RecordTokenUsage annotates the run span with model token counts.
func (t *Trace[T]) RecordTokenUsage(model string, input, output int64) {
	t.span.SetAttributes(
		attribute.String("model", model),
		attribute.Int64("tokens.input", input),
		attribute.Int64("tokens.output", output),
	)
}

// BadToolCall records a call whose arguments could not be used. It is
// appended as an already completed call carrying err.
func (t *Trace[T]) BadToolCall(id, name string, params map[string]any, err error) {
	t.StartToolCall(id, name, params).Complete(nil, err)
}

// Complete ends the tool call span and appends the call to its trace.
// Only the first call has any effect.
func (tc *ToolCall[T]) Complete(result any, err error) {
	tc.once.Do(func() {
		tc.Result = result
		tc.Error = err
		tc.EndTime = time.Now()
		endSpan(tc.span, err)

		tc.trace.mu.Lock()
		defer tc.trace.mu.Unlock()
		tc.trace.ToolCalls = append(tc.trace.ToolCalls, tc)
	})
}

// Complete ends the run and hands the trace to its tracer.
func (t *Trace[T]) Complete(result T, err error) {
	t.mu.Lock()
	t.Result = result
	t.Error = err
	t.EndTime = time.Now()
	t.mu.Unlock()

	endSpan(t.span, err)
	t.tracer.RecordTrace(t)
}

func endSpan(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Duration is the elapsed run time, up to now if still running.
func (t *Trace[T]) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.EndTime.IsZero() {
		return time.Since(t.StartTime)
	}
	return t.EndTime.Sub(t.StartTime)
}

// String renders a compact human-readable summary for logs.
func (t *Trace[T]) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "trace %s (%s", t.ID, t.ExecContext.Phase)
	if t.ExecContext.TestNumber > 0 {
		fmt.Fprintf(&sb, " test %d", t.ExecContext.TestNumber)
	}
	fmt.Fprintf(&sb, "): %d tool calls", len(t.ToolCalls))
	for i, tc := range t.ToolCalls {
		fmt.Fprintf(&sb, "\n  [%d] %s", i+1, tc.Name)
		if tc.Error != nil {
			fmt.Fprintf(&sb, " error=%q", truncate(tc.Error.Error(), 120))
		}
	}
	if t.Error != nil {
		fmt.Fprintf(&sb, "\n  error: %s", truncate(t.Error.Error(), 300))
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// newTraceID returns YYYYMMDD-HHMMSS-<8 hex>.
func newTraceID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return time.Now().Format("20060102-150405.000000")
	}
	return time.Now().Format("20060102-150405") + "-" + hex.EncodeToString(b)
}
