/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

type googleProvider struct {
	cfg    *providerConfig
	client *genai.Client
}

// NewGoogle returns a provider backed by the Gemini API (Google AI Studio).
// It registers as "google-ai-studio", the Cloudflare route name.
func NewGoogle(ctx context.Context, apiKey string, opts ...ProviderOption) (Provider, error) {
	cfg, err := newProviderConfig("google-ai-studio", apiKey, opts)
	if err != nil {
		return nil, err
	}
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.httpClient,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.baseURL
	}
	if len(cfg.headers) > 0 {
		cc.HTTPOptions.Headers = http.Header{}
		for k, v := range cfg.headers {
			cc.HTTPOptions.Headers.Set(k, v)
		}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating Google AI client: %w", err)
	}
	return &googleProvider{cfg: cfg, client: client}, nil
}

func (p *googleProvider) Name() string { return p.cfg.name }

func (p *googleProvider) Complete(ctx context.Context, req Request) (Response, error) {
	system, prompt := p.cfg.messages(req)
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(p.cfg.temperature)),
		TopP:            genai.Ptr(float32(p.cfg.topP)),
		MaxOutputTokens: int32(p.cfg.maxTokens),
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, genai.Text(prompt), config)
	if err != nil {
		if status, body, ok := googleAPIError(err); ok {
			return Response{}, &UpstreamError{Provider: p.cfg.name, StatusCode: status, Body: body, Err: err}
		}
		return Response{}, fmt.Errorf("%s request: %w", p.cfg.name, err)
	}

	out := Response{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		out.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func googleAPIError(err error) (int, string, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Message, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code, apiErrPtr.Message, true
	}
	return 0, "", false
}
