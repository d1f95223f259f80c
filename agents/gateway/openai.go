/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type openAIProvider struct {
	cfg    *providerConfig
	client openai.Client
}

// NewOpenAICompatible returns a provider for any API speaking the OpenAI
// chat completions protocol. Groq, Perplexity and Workers AI are reached
// this way through a Cloudflare AI gateway, with name set to the route.
func NewOpenAICompatible(name, apiKey string, opts ...ProviderOption) (Provider, error) {
	cfg, err := newProviderConfig(name, apiKey, opts)
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
	return &openAIProvider{cfg: cfg, client: openai.NewClient(copts...)}, nil
}

func (p *openAIProvider) Name() string { return p.cfg.name }

func (p *openAIProvider) Complete(ctx context.Context, req Request) (Response, error) {
	system, prompt := p.cfg.messages(req)
	var msgs []openai.ChatCompletionMessageParamUnion
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: openai.Float(p.cfg.temperature),
		TopP:        openai.Float(p.cfg.topP),
		MaxTokens:   openai.Int(p.cfg.maxTokens),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return Response{}, &UpstreamError{Provider: p.cfg.name, StatusCode: apiErr.StatusCode, Body: apiErr.RawJSON(), Err: err}
		}
		return Response{}, fmt.Errorf("%s request: %w", p.cfg.name, err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("%s returned no choices", p.cfg.name)
	}
	return Response{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}
