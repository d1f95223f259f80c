/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reviewreconciler

import (
	"context"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"

	"chainguard.dev/vibepr/agents/executor/retry"
	"chainguard.dev/vibepr/agents/gateway"
	"chainguard.dev/vibepr/agents/result"
	"chainguard.dev/vibepr/reconcilers/githubreconciler/codehost"
)

const (
	// maxSummaryInput bounds how much of a file is sent for summarization.
	maxSummaryInput = 40_000
	// maxPatchInput bounds each file patch in the test generation prompt.
	maxPatchInput = 8_000
)

// generate analyzes the pull request and produces the test plan.
func (o *Orchestrator) generate(ctx context.Context, r *Review) error {
	files, err := o.host.ChangedFiles(ctx, r.Repo, r.PRNumber)
	if err != nil {
		return fmt.Errorf("listing changed files: %w", err)
	}
	r.Generate.ChangedFiles = files

	tree, err := o.host.Tree(ctx, r.Repo, r.ContentRef(), o.treeDepth)
	if err != nil {
		return fmt.Errorf("reading repository tree: %w", err)
	}

	codebase, err := o.summarizeCodebase(ctx, r, tree)
	if err != nil {
		return err
	}

	readme, err := o.host.FileContent(ctx, r.Repo, "README.md", r.ContentRef())
	if err != nil {
		readme = "Error reading README: " + err.Error()
	}

	cfg, raw, err := o.loadSetupConfig(ctx, r)
	if err != nil {
		return err
	}

	system, user, err := buildGenerateTests(testsRequest{
		Title:           r.PRTitle,
		Description:     r.PRBody,
		Readme:          readme,
		CodebaseContext: codebase,
		FileTree:        tree,
		Changes:         promptChanges(files),
		SetupConfig:     cfg,
	})
	if err != nil {
		return fmt.Errorf("building test generation prompt: %w", err)
	}
	text, err := o.complete(ctx, "generate_tests", system, user)
	if err != nil {
		return fmt.Errorf("generating tests: %w", err)
	}
	plan, err := result.Decode[TestPlan]("test plan", text)
	if err != nil {
		return err
	}

	r.Generate.CodebaseSummary = plan.CodebaseSummary
	r.Generate.PRChangesSummary = plan.PRChanges
	r.Generate.GeneratedTests = plan.Tests
	r.Generate.AutoSetupInstructions = plan.SetupInstructions
	r.Generate.SetupConfigContent = raw
	r.TotalTests, r.PassedTests = len(plan.Tests), 0

	clog.FromContext(ctx).With("tests", len(plan.Tests)).
		With("declarative_setup", cfg != nil).
		Info("Generated test plan")
	return nil
}

// summarizeCodebase asks the model which files matter, then summarizes each
// of them concurrently. Summaries keep the order the model chose.
func (o *Orchestrator) summarizeCodebase(ctx context.Context, r *Review, tree string) (string, error) {
	log := clog.FromContext(ctx)

	system, user, err := buildAnalyzeFiles(tree)
	if err != nil {
		return "", fmt.Errorf("building file analysis prompt: %w", err)
	}
	text, err := o.complete(ctx, "analyze_files", system, user)
	if err != nil {
		return "", fmt.Errorf("analyzing files: %w", err)
	}
	analysis, err := result.Decode[fileAnalysis]("file analysis", text)
	if err != nil {
		return "", err
	}
	important := analysis.Files
	if len(important) > maxImportantFiles {
		important = important[:maxImportantFiles]
	}

	summaries := make([]string, len(important))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.summaryConcurrency)
	for i, f := range important {
		g.Go(func() error {
			content, err := o.host.FileContent(gctx, r.Repo, f.Path, r.ContentRef())
			if err != nil {
				log.With("path", f.Path).Warn("Skipping unreadable file", "error", err)
				return nil
			}
			prompt, err := buildSummarizeFile(f.Path, truncate(content, maxSummaryInput))
			if err != nil {
				return err
			}
			summary, err := o.complete(gctx, "summarize_file", summarizeFileSystem, prompt)
			if err != nil {
				return fmt.Errorf("summarizing %s: %w", f.Path, err)
			}
			summaries[i] = f.Path + ": " + strings.TrimSpace(summary)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	lines := summaries[:0]
	for _, s := range summaries {
		if s != "" {
			lines = append(lines, s)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// loadSetupConfig reads the declarative setup file at the reviewed commit. A
// missing file is not an error.
func (o *Orchestrator) loadSetupConfig(ctx context.Context, r *Review) (*SetupConfig, string, error) {
	raw, err := o.host.FileContent(ctx, r.Repo, SetupConfigPath, r.ContentRef())
	switch {
	case codehost.IsNotFound(err):
		return nil, "", nil
	case err != nil:
		return nil, "", fmt.Errorf("reading %s: %w", SetupConfigPath, err)
	}
	cfg, err := ParseSetupConfig(raw)
	if err != nil {
		return nil, "", err
	}
	return cfg, raw, nil
}

func (o *Orchestrator) complete(ctx context.Context, op, system, user string) (string, error) {
	return retry.Do(ctx, o.retry, op, gateway.IsRetryable, func(ctx context.Context) (string, error) {
		return o.completer.Complete(ctx, o.provider, o.model, system, user)
	})
}

// promptChanges copies files with oversized patches trimmed.
func promptChanges(files []codehost.ChangedFile) []codehost.ChangedFile {
	out := make([]codehost.ChangedFile, len(files))
	for i, f := range files {
		f.Patch = truncate(f.Patch, maxPatchInput)
		out[i] = f
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
