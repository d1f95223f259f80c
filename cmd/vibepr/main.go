/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main runs the vibepr service: a GitHub webhook receiver that
// reviews pull requests by generating UI tests, booting a desktop VM and
// letting an agent execute them.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
	"github.com/chainguard-dev/terraform-infra-common/pkg/httpmetrics"
	"github.com/chainguard-dev/terraform-infra-common/pkg/profiler"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"

	"chainguard.dev/vibepr/agents/driver"
	"chainguard.dev/vibepr/agents/executor/retry"
	"chainguard.dev/vibepr/agents/metrics"
	"chainguard.dev/vibepr/events/natsbus"
	"chainguard.dev/vibepr/reconcilers/reviewreconciler"
	"chainguard.dev/vibepr/store/sqlite"
	"chainguard.dev/vibepr/vm"
)

var (
	_ reviewer               = (*reviewreconciler.Orchestrator)(nil)
	_ records                = (*sqlite.ReviewStore)(nil)
	_ unfinishedLister       = (*sqlite.ReviewStore)(nil)
	_ reviewreconciler.Agent = (*driver.Driver)(nil)
)

// shutdownGrace bounds how long the listener may take to drain.
const shutdownGrace = 30 * time.Second

type config struct {
	Port        int `env:"PORT,default=8080"`
	MetricsPort int `env:"METRICS_PORT,default=2112"`

	// GitHub authentication: either a token or an App installation.
	GitHubToken          string `env:"GITHUB_TOKEN"`
	GitHubAppID          int64  `env:"GITHUB_APP_ID"`
	GitHubInstallationID int64  `env:"GITHUB_INSTALLATION_ID"`
	GitHubPrivateKey     string `env:"GITHUB_PRIVATE_KEY"`
	WebhookSecret        string `env:"GITHUB_WEBHOOK_SECRET"`

	VMProvider          string        `env:"VM_PROVIDER,default=digitalocean"`
	DigitalOceanToken   string        `env:"DIGITALOCEAN_TOKEN"`
	DORegion            string        `env:"DO_REGION,default=nyc1"`
	DOSize              string        `env:"DO_SIZE,default=s-2vcpu-2gb"`
	DOImage             string        `env:"DO_IMAGE,default=ubuntu-22-04-x64"`
	DOSSHKeyFingerprint string        `env:"DO_SSH_KEY_FINGERPRINT"`
	GCEProject          string        `env:"GCE_PROJECT"`
	GCEZone             string        `env:"GCE_ZONE,default=us-central1-a"`
	GCEMachineType      string        `env:"GCE_MACHINE_TYPE"`
	GCEImage            string        `env:"GCE_IMAGE"`
	VMSSHUser           string        `env:"VM_SSH_USER,default=vibepr"`
	VMSSHPrivateKey     string        `env:"VM_SSH_PRIVATE_KEY,required"`
	VMPollInterval      time.Duration `env:"VM_POLL_INTERVAL,default=5s"`
	VMPollAttempts      int           `env:"VM_POLL_ATTEMPTS,default=20"`
	ReaperTTL           time.Duration `env:"VM_REAPER_TTL,default=3h"`
	ReaperInterval      time.Duration `env:"VM_REAPER_INTERVAL,default=10m"`

	AnthropicAPIKey     string `env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey        string `env:"OPENAI_API_KEY"`
	GoogleAPIKey        string `env:"GOOGLE_AI_STUDIO_API_KEY"`
	GroqAPIKey          string `env:"GROQ_API_KEY"`
	PerplexityAPIKey    string `env:"PERPLEXITY_API_KEY"`
	CloudflareAPIToken  string `env:"CLOUDFLARE_API_TOKEN"`
	CloudflareAccountID string `env:"CLOUDFLARE_ACCOUNT_ID"`
	CloudflareGateway   string `env:"CLOUDFLARE_GATEWAY"`

	GenerateProvider   string `env:"GENERATE_PROVIDER,default=google-ai-studio"`
	GenerateModel      string `env:"GENERATE_MODEL,default=gemini-2.5-flash"`
	SummaryConcurrency int    `env:"SUMMARY_CONCURRENCY,default=4"`
	AgentProvider      string `env:"AGENT_PROVIDER,default=anthropic"`
	AgentModel         string `env:"AGENT_MODEL,default=claude-sonnet-4-5"`
	AgentMaxSteps      int    `env:"AGENT_MAX_STEPS,default=50"`

	DatabasePath    string `env:"DATABASE_PATH,default=vibepr.db"`
	NATSURL         string `env:"NATS_URL"`
	ArtifactBackend string `env:"ARTIFACT_BACKEND,default=none"`
	ArtifactBucket  string `env:"ARTIFACT_BUCKET"`
	S3Endpoint      string `env:"S3_ENDPOINT"`
	S3Region        string `env:"S3_REGION,default=us-east-1"`
	S3AccessKey     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretKey     string `env:"S3_SECRET_ACCESS_KEY"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go httpmetrics.ScrapeDiskUsage(ctx)
	profiler.SetupProfiler()
	defer httpmetrics.SetupTracer(ctx)()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}

	genai := metrics.NewGenAI("chainguard.dev/vibepr")
	genai.SetAttributeEnricher(metrics.ExecutionContextEnricher)

	host, err := newCodeHost(cfg)
	if err != nil {
		clog.FatalContextf(ctx, "creating GitHub client: %v", err)
	}
	gw, err := newGateway(ctx, cfg, genai)
	if err != nil {
		clog.FatalContextf(ctx, "creating completion gateway: %v", err)
	}
	clog.InfoContextf(ctx, "Registered completion providers: %v", gw.Providers())

	dialer, err := vm.NewSSHDialer(cfg.VMSSHUser, []byte(cfg.VMSSHPrivateKey))
	if err != nil {
		clog.FatalContextf(ctx, "creating ssh dialer: %v", err)
	}
	cloud, err := newCloud(ctx, cfg)
	if err != nil {
		clog.FatalContextf(ctx, "creating %s cloud: %v", cfg.VMProvider, err)
	}
	mgr, err := vm.NewManager(cloud, dialer,
		vm.WithPolling(cfg.VMPollInterval, cfg.VMPollAttempts),
		vm.WithDialRetry(retry.DefaultConfig()),
		vm.WithBootScript(vm.MustRenderBootScript(dialer.PublicKey())),
	)
	if err != nil {
		clog.FatalContextf(ctx, "creating vm manager: %v", err)
	}

	dopts := []driver.Option{
		driver.WithMaxSteps(cfg.AgentMaxSteps),
		driver.WithMetrics(genai),
	}
	store, err := newArtifactStore(ctx, cfg)
	if err != nil {
		clog.FatalContextf(ctx, "creating artifact store: %v", err)
	}
	if store != nil {
		dopts = append(dopts, driver.WithArtifactStore(store))
	}
	agent, err := driver.New(gw, cfg.AgentProvider, cfg.AgentModel, dopts...)
	if err != nil {
		clog.FatalContextf(ctx, "creating agent driver: %v", err)
	}

	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		clog.FatalContextf(ctx, "opening database: %v", err)
	}
	defer db.Close()
	reviews := sqlite.NewReviewStore(db)

	oopts := []reviewreconciler.Option{
		reviewreconciler.WithGenerateModel(cfg.GenerateProvider, cfg.GenerateModel),
		reviewreconciler.WithSummaryConcurrency(cfg.SummaryConcurrency),
		// The VM clones with the same credential the service reads with.
		reviewreconciler.WithCloneURL(host.CloneURL),
	}
	if cfg.NATSURL != "" {
		bus, err := natsbus.New(cfg.NATSURL, nats.Name("vibepr"))
		if err != nil {
			clog.FatalContextf(ctx, "connecting to NATS: %v", err)
		}
		defer bus.Close()
		oopts = append(oopts, reviewreconciler.WithNotifier(bus))
	}
	orch, err := reviewreconciler.New(host, gw, mgr, agent, reviews, oopts...)
	if err != nil {
		clog.FatalContextf(ctx, "creating orchestrator: %v", err)
	}

	if cfg.WebhookSecret == "" {
		clog.WarnContextf(ctx, "GITHUB_WEBHOOK_SECRET is not set, webhook signatures are not verified")
	}
	srv := newServer(ctx, orch, reviews, []byte(cfg.WebhookSecret))
	if err := srv.resumeUnfinished(ctx, reviews); err != nil {
		clog.ErrorContextf(ctx, "resuming unfinished reviews: %v", err)
	}

	go vm.NewReaper(cloud, cfg.ReaperTTL).Run(ctx, cfg.ReaperInterval)
	go serveMetrics(ctx, cfg.MetricsPort)

	hs := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			clog.WarnContextf(ctx, "shutting down http server: %v", err)
		}
	}()

	clog.InfoContextf(ctx, "Starting vibepr on port %d", cfg.Port)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		clog.FatalContextf(ctx, "server failed: %v", err)
	}
	srv.wait()
}

func serveMetrics(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	ms := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = ms.Close()
	}()
	if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		clog.ErrorContextf(ctx, "metrics server failed: %v", err)
	}
}
