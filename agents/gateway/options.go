/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

type providerConfig struct {
	name        string
	apiKey      string
	baseURL     string
	headers     map[string]string
	httpClient  *http.Client
	temperature float64
	topP        float64
	maxTokens   int64
	combine     bool
}

func newProviderConfig(name, apiKey string, opts []ProviderOption) (*providerConfig, error) {
	c := &providerConfig{
		name:        name,
		apiKey:      apiKey,
		temperature: DefaultTemperature,
		topP:        DefaultTopP,
		maxTokens:   DefaultMaxTokens,
		headers:     map[string]string{},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.name == "" {
		return nil, errors.New("provider name cannot be empty")
	}
	return c, nil
}

// ProviderOption configures a provider.
type ProviderOption func(*providerConfig) error

// WithName overrides the name the provider registers under.
func WithName(name string) ProviderOption {
	return func(c *providerConfig) error {
		c.name = name
		return nil
	}
}

// WithBaseURL points the provider at a different endpoint, such as a
// Cloudflare AI gateway route or a test server.
func WithBaseURL(u string) ProviderOption {
	return func(c *providerConfig) error {
		c.baseURL = u
		return nil
	}
}

// WithHeaders adds headers to every request.
func WithHeaders(h map[string]string) ProviderOption {
	return func(c *providerConfig) error {
		for k, v := range h {
			c.headers[k] = v
		}
		return nil
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) ProviderOption {
	return func(c *providerConfig) error {
		if hc == nil {
			return errors.New("http client cannot be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithCloudflare routes the provider through gw using the provider's
// Cloudflare route name.
func WithCloudflare(gw Cloudflare, route string) ProviderOption {
	return func(c *providerConfig) error {
		if !gw.Configured() {
			return errors.New("cloudflare account and gateway are required")
		}
		c.baseURL = gw.URL(route)
		for k, v := range gw.Headers() {
			c.headers[k] = v
		}
		return nil
	}
}

// WithSampling overrides temperature, top_p and max tokens.
func WithSampling(temperature, topP float64, maxTokens int64) ProviderOption {
	return func(c *providerConfig) error {
		if temperature < 0 || temperature > 2 {
			return fmt.Errorf("temperature must be between 0 and 2, got %f", temperature)
		}
		if topP <= 0 || topP > 1 {
			return fmt.Errorf("top_p must be in (0, 1], got %f", topP)
		}
		if maxTokens <= 0 {
			return fmt.Errorf("max tokens must be positive, got %d", maxTokens)
		}
		c.temperature, c.topP, c.maxTokens = temperature, topP, maxTokens
		return nil
	}
}

// WithCombinedPrompt sends the system prompt inside the user turn.
func WithCombinedPrompt() ProviderOption {
	return func(c *providerConfig) error {
		c.combine = true
		return nil
	}
}

func (c *providerConfig) messages(req Request) (system, prompt string) {
	if c.combine {
		return "", CombinePrompts(req.System, req.Prompt)
	}
	return req.System, req.Prompt
}
