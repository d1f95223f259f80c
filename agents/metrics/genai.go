/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package metrics exposes OpenTelemetry instruments for completion calls
// and agent tool use.
package metrics

import (
	"context"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// GenAI records token usage, completion latency and tool calls. Instruments
// that fail to register degrade to no-ops.
type GenAI struct {
	promptTokens      metric.Int64Counter
	completionTokens  metric.Int64Counter
	toolCalls         metric.Int64Counter
	completionLatency metric.Float64Histogram
	enrich            AttributeEnricher
}

// NewGenAI creates the instruments on the named meter. Provider and model
// are dimensions on every measurement.
func NewGenAI(meterName string) *GenAI {
	meter := otel.Meter(meterName, metric.WithInstrumentationVersion("1.0.0"))
	log := clog.FromContext(context.Background()).With("meter", meterName)

	promptTokens, err := meter.Int64Counter("genai.token.prompt",
		metric.WithDescription("The number of prompt tokens used"),
		metric.WithUnit("{tokens}"))
	if err != nil {
		log.Warn("Failed to create prompt token counter", "error", err)
		promptTokens = noop.Int64Counter{}
	}

	completionTokens, err := meter.Int64Counter("genai.token.completion",
		metric.WithDescription("The number of completion tokens used"),
		metric.WithUnit("{tokens}"))
	if err != nil {
		log.Warn("Failed to create completion token counter", "error", err)
		completionTokens = noop.Int64Counter{}
	}

	toolCalls, err := meter.Int64Counter("genai.tool.calls",
		metric.WithDescription("The number of agent tool calls"),
		metric.WithUnit("{calls}"))
	if err != nil {
		log.Warn("Failed to create tool call counter", "error", err)
		toolCalls = noop.Int64Counter{}
	}

	latency, err := meter.Float64Histogram("genai.completion.duration",
		metric.WithDescription("Wall time of a single completion request"),
		metric.WithUnit("s"))
	if err != nil {
		log.Warn("Failed to create completion latency histogram", "error", err)
		latency = noop.Float64Histogram{}
	}

	return &GenAI{
		promptTokens:      promptTokens,
		completionTokens:  completionTokens,
		toolCalls:         toolCalls,
		completionLatency: latency,
		enrich:            ExecutionContextEnricher,
	}
}

// SetAttributeEnricher replaces the enricher applied to every measurement.
// A nil enricher disables enrichment.
func (m *GenAI) SetAttributeEnricher(enricher AttributeEnricher) {
	m.enrich = enricher
}

func (m *GenAI) attrs(ctx context.Context, base ...attribute.KeyValue) metric.MeasurementOption {
	if m.enrich != nil {
		base = m.enrich(ctx, base)
	}
	return metric.WithAttributes(base...)
}

// RecordTokens records prompt and completion token usage.
func (m *GenAI) RecordTokens(ctx context.Context, provider, model string, prompt, completion int64) {
	opt := m.attrs(ctx, attribute.String("provider", provider), attribute.String("model", model))
	m.promptTokens.Add(ctx, prompt, opt)
	m.completionTokens.Add(ctx, completion, opt)
}

// RecordCompletion records the latency of one completion request and
// whether it failed.
func (m *GenAI) RecordCompletion(ctx context.Context, provider, model string, d time.Duration, err error) {
	m.completionLatency.Record(ctx, d.Seconds(), m.attrs(ctx,
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.Bool("error", err != nil)))
}

// RecordToolCall records one agent tool invocation.
func (m *GenAI) RecordToolCall(ctx context.Context, model, tool string) {
	m.toolCalls.Add(ctx, 1, m.attrs(ctx, attribute.String("model", model), attribute.String("tool", tool)))
}
