/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicProvider struct {
	cfg    *providerConfig
	client anthropic.Client
}

// NewAnthropic returns a provider backed by the Anthropic Messages API.
func NewAnthropic(apiKey string, opts ...ProviderOption) (Provider, error) {
	cfg, err := newProviderConfig("anthropic", apiKey, opts)
	if err != nil {
		return nil, err
	}
	copts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		copts = append(copts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		copts = append(copts, option.WithHTTPClient(cfg.httpClient))
	}
	for k, v := range cfg.headers {
		copts = append(copts, option.WithHeader(k, v))
	}
	return &anthropicProvider{cfg: cfg, client: anthropic.NewClient(copts...)}, nil
}

func (p *anthropicProvider) Name() string { return p.cfg.name }

func (p *anthropicProvider) Complete(ctx context.Context, req Request) (Response, error) {
	system, prompt := p.cfg.messages(req)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: p.cfg.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Temperature: anthropic.Float(p.cfg.temperature),
		TopP:        anthropic.Float(p.cfg.topP),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return Response{}, &UpstreamError{Provider: p.cfg.name, StatusCode: apiErr.StatusCode, Body: apiErr.RawJSON(), Err: err}
		}
		return Response{}, fmt.Errorf("%s request: %w", p.cfg.name, err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return Response{
		Text:         sb.String(),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}
