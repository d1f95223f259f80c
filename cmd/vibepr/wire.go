/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"

	"chainguard.dev/vibepr/agents/gateway"
	"chainguard.dev/vibepr/agents/metrics"
	"chainguard.dev/vibepr/artifacts"
	"chainguard.dev/vibepr/artifacts/gcs"
	"chainguard.dev/vibepr/artifacts/s3"
	"chainguard.dev/vibepr/reconcilers/githubreconciler/codehost"
	"chainguard.dev/vibepr/vm"
	"chainguard.dev/vibepr/vm/digitalocean"
	"chainguard.dev/vibepr/vm/gce"
)

// Sampling used for every provider.
const (
	temperature = 0.6
	topP        = 0.95
	maxTokens   = 2048
)

// Direct endpoints used when no Cloudflare AI gateway is configured.
const (
	groqBaseURL       = "https://api.groq.com/openai/v1"
	perplexityBaseURL = "https://api.perplexity.ai"
)

func newCodeHost(cfg config) (*codehost.Client, error) {
	switch {
	case cfg.GitHubAppID != 0:
		if cfg.GitHubInstallationID == 0 || cfg.GitHubPrivateKey == "" {
			return nil, errors.New("GITHUB_INSTALLATION_ID and GITHUB_PRIVATE_KEY are required with GITHUB_APP_ID")
		}
		return codehost.NewAppClient(cfg.GitHubAppID, cfg.GitHubInstallationID, []byte(cfg.GitHubPrivateKey))
	case cfg.GitHubToken != "":
		return codehost.NewTokenClient(cfg.GitHubToken), nil
	default:
		return nil, errors.New("one of GITHUB_TOKEN or GITHUB_APP_ID is required")
	}
}

// newGateway registers a provider for every API key that is set. Groq,
// Perplexity, Google AI Studio and Workers AI go through the Cloudflare AI
// gateway when one is configured.
func newGateway(ctx context.Context, cfg config, m *metrics.GenAI) (*gateway.Gateway, error) {
	cf := gateway.Cloudflare{
		AccountID: cfg.CloudflareAccountID,
		Gateway:   cfg.CloudflareGateway,
		APIToken:  cfg.CloudflareAPIToken,
	}
	routed := func(route, direct string) []gateway.ProviderOption {
		opts := []gateway.ProviderOption{gateway.WithSampling(temperature, topP, maxTokens)}
		switch {
		case cf.Configured():
			opts = append(opts, gateway.WithCloudflare(cf, route))
		case direct != "":
			opts = append(opts, gateway.WithBaseURL(direct))
		}
		return opts
	}

	var providers []gateway.Provider
	add := func(p gateway.Provider, err error) error {
		if err != nil {
			return err
		}
		providers = append(providers, p)
		return nil
	}

	if cfg.GoogleAPIKey != "" {
		if err := add(gateway.NewGoogle(ctx, cfg.GoogleAPIKey, routed("google-ai-studio", "")...)); err != nil {
			return nil, fmt.Errorf("google-ai-studio: %w", err)
		}
	}
	if cfg.GroqAPIKey != "" {
		if err := add(gateway.NewOpenAICompatible("groq", cfg.GroqAPIKey, routed("groq", groqBaseURL)...)); err != nil {
			return nil, fmt.Errorf("groq: %w", err)
		}
	}
	if cfg.PerplexityAPIKey != "" {
		if err := add(gateway.NewOpenAICompatible("perplexity-ai", cfg.PerplexityAPIKey, routed("perplexity-ai", perplexityBaseURL)...)); err != nil {
			return nil, fmt.Errorf("perplexity-ai: %w", err)
		}
	}
	// Workers AI exists only behind the gateway, authenticated with the
	// Cloudflare token.
	if cf.Configured() && cfg.CloudflareAPIToken != "" {
		if err := add(gateway.NewOpenAICompatible("workers-ai", cfg.CloudflareAPIToken, routed("workers-ai/v1", "")...)); err != nil {
			return nil, fmt.Errorf("workers-ai: %w", err)
		}
	}
	if cfg.AnthropicAPIKey != "" {
		if err := add(gateway.NewAnthropic(cfg.AnthropicAPIKey, gateway.WithSampling(temperature, topP, maxTokens))); err != nil {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
	}
	if cfg.OpenAIAPIKey != "" {
		if err := add(gateway.NewOpenAICompatible("openai", cfg.OpenAIAPIKey, gateway.WithSampling(temperature, topP, maxTokens))); err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
	}
	if len(providers) == 0 {
		return nil, errors.New("no completion provider API key is set")
	}

	opts := []gateway.Option{gateway.WithMetrics(m)}
	for _, p := range providers {
		opts = append(opts, gateway.WithProvider(p))
	}
	return gateway.New(opts...)
}

func newCloud(ctx context.Context, cfg config) (vm.Cloud, error) {
	switch cfg.VMProvider {
	case "digitalocean":
		if cfg.DigitalOceanToken == "" {
			return nil, errors.New("DIGITALOCEAN_TOKEN is required")
		}
		dc := digitalocean.Config{Region: cfg.DORegion, Size: cfg.DOSize, Image: cfg.DOImage}
		if cfg.DOSSHKeyFingerprint != "" {
			dc.SSHKeyFingerprints = []string{cfg.DOSSHKeyFingerprint}
		}
		return digitalocean.New(ctx, cfg.DigitalOceanToken, dc), nil
	case "gce":
		gc := gce.DefaultConfig(cfg.GCEProject, cfg.GCEZone)
		if cfg.GCEMachineType != "" {
			gc.MachineType = cfg.GCEMachineType
		}
		if cfg.GCEImage != "" {
			gc.Image = cfg.GCEImage
		}
		cloud, err := gce.New(ctx, gc)
		if err != nil {
			return nil, err
		}
		return cloud, nil
	default:
		return nil, fmt.Errorf("unknown VM_PROVIDER %q", cfg.VMProvider)
	}
}

// newArtifactStore returns nil when screenshots are not archived.
func newArtifactStore(ctx context.Context, cfg config) (artifacts.Store, error) {
	switch cfg.ArtifactBackend {
	case "", "none":
		return nil, nil
	case "gcs":
		if cfg.ArtifactBucket == "" {
			return nil, errors.New("ARTIFACT_BUCKET is required")
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating storage client: %w", err)
		}
		return gcs.New(client, cfg.ArtifactBucket), nil
	case "s3":
		store, err := s3.New(ctx, s3.Config{
			Bucket:    cfg.ArtifactBucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown ARTIFACT_BACKEND %q", cfg.ArtifactBackend)
	}
}
