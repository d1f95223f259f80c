/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package gateway offers one completion call over interchangeable language
// model providers. It does not retry; callers own their retry policy.
package gateway

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/vibepr/agents/metrics"
)

// Default sampling parameters applied by every provider.
const (
	DefaultTemperature = 0.6
	DefaultMaxTokens   = 2048
	DefaultTopP        = 0.95
)

// Request is a single-turn completion request.
type Request struct {
	Model  string
	System string
	Prompt string
}

// Response is the text of a completion plus its token accounting.
type Response struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Provider is one upstream model API.
type Provider interface {
	// Name is the identifier callers pass to Complete.
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}

// Completer is what the orchestrator and the agent driver consume.
type Completer interface {
	Complete(ctx context.Context, provider, model, system, prompt string) (string, error)
}

// Gateway routes completions to registered providers by name.
type Gateway struct {
	providers map[string]Provider
	metrics   *metrics.GenAI
}

var _ Completer = (*Gateway)(nil)

// Option configures a Gateway.
type Option func(*Gateway) error

// WithProvider registers p under p.Name(). A later registration with the
// same name replaces the earlier one.
func WithProvider(p Provider) Option {
	return func(g *Gateway) error {
		if p == nil {
			return fmt.Errorf("provider cannot be nil")
		}
		g.providers[p.Name()] = p
		return nil
	}
}

// WithMetrics overrides the instruments used to record usage.
func WithMetrics(m *metrics.GenAI) Option {
	return func(g *Gateway) error {
		g.metrics = m
		return nil
	}
}

// New constructs a Gateway.
func New(opts ...Option) (*Gateway, error) {
	g := &Gateway{
		providers: make(map[string]Provider),
		metrics:   metrics.NewGenAI("chainguard.dev/vibepr/gateway"),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Providers lists the registered provider names in sorted order.
func (g *Gateway) Providers() []string {
	names := make([]string, 0, len(g.providers))
	for name := range g.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Complete sends system and prompt to model on the named provider and
// returns the response text. An unknown provider yields
// *UnsupportedProviderError; a non-2xx upstream response yields
// *UpstreamError.
func (g *Gateway) Complete(ctx context.Context, provider, model, system, prompt string) (string, error) {
	p, ok := g.providers[provider]
	if !ok {
		return "", &UnsupportedProviderError{Provider: provider}
	}

	log := clog.FromContext(ctx).With("provider", provider).With("model", model)
	start := time.Now()
	resp, err := p.Complete(ctx, Request{Model: model, System: system, Prompt: prompt})
	g.metrics.RecordCompletion(ctx, provider, model, time.Since(start), err)
	if err != nil {
		log.Warn("Completion failed", "error", err)
		return "", err
	}

	if resp.InputTokens > 0 || resp.OutputTokens > 0 {
		g.metrics.RecordTokens(ctx, provider, model, resp.InputTokens, resp.OutputTokens)
	}
	log.With("input_tokens", resp.InputTokens).
		With("output_tokens", resp.OutputTokens).
		With("duration", time.Since(start)).
		Debug("Completion finished")
	return resp.Text, nil
}

// CombinePrompts folds a system prompt into the user prompt for providers
// that have no separate system role.
func CombinePrompts(system, prompt string) string {
	if system == "" {
		return prompt
	}
	return system + "\n\nUser Request: " + prompt
}
