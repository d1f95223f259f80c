/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package vm

import (
	"context"
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"
	"sync"

	"al.essio.dev/pkg/shellescape"
	"github.com/chainguard-dev/clog"
)

// Display is the X display the instance's desktop runs on.
const Display = ":1"

type handle struct {
	cloud     Cloud
	id        string
	streamURL string
	runner    Runner

	mu  sync.Mutex
	env map[string]string

	stopOnce sync.Once
}

var _ Handle = (*handle)(nil)

func newHandle(cloud Cloud, id, streamURL string, runner Runner) *handle {
	return &handle{
		cloud:     cloud,
		id:        id,
		streamURL: streamURL,
		runner:    runner,
		env:       map[string]string{"DISPLAY": Display},
	}
}

func (h *handle) ID() string        { return h.id }
func (h *handle) StreamURL() string { return h.streamURL }

func (h *handle) SetEnv(_ context.Context, vars map[string]string) error {
	for k := range vars {
		if !validEnvName(k) {
			return fmt.Errorf("invalid environment variable name %q", k)
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	maps.Copy(h.env, vars)
	return nil
}

func (h *handle) Bash(ctx context.Context, cmd string) (CommandResult, error) {
	return h.runner.Run(ctx, h.wrap(cmd), nil)
}

func (h *handle) WriteFile(ctx context.Context, p, content string) error {
	target := QuotePath(p)
	dir := QuotePath(path.Dir(p))
	res, err := h.runner.Run(ctx, h.wrap(fmt.Sprintf("mkdir -p %s && cat > %s", dir, target)), []byte(content))
	if err != nil {
		return fmt.Errorf("writing %s: %w", p, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("writing %s: exit %d: %s", p, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (h *handle) Stop(ctx context.Context) error {
	h.stopOnce.Do(func() {
		log := clog.FromContext(ctx).With("instance_id", h.id)
		if err := h.runner.Close(); err != nil {
			log.Debug("Closing connection", "error", err)
		}
		if err := h.cloud.Delete(context.WithoutCancel(ctx), h.id); err != nil {
			log.Warn("Failed to delete instance; it stays tagged for the reaper", "error", err)
			return
		}
		log.Info("Instance deleted")
	})
	return nil
}

// wrap prefixes cmd with the handle's environment and runs it in a login
// shell.
func (h *handle) wrap(cmd string) string {
	h.mu.Lock()
	keys := slices.Sorted(maps.Keys(h.env))
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "export %s=%s; ", k, shellescape.Quote(h.env[k]))
	}
	h.mu.Unlock()
	sb.WriteString(cmd)
	return "bash -lc " + shellescape.Quote(sb.String())
}

// QuotePath quotes p for a shell, keeping a leading "~/" expandable.
func QuotePath(p string) string {
	switch {
	case p == "~":
		return `"$HOME"`
	case strings.HasPrefix(p, "~/"):
		return `"$HOME"/` + shellescape.Quote(p[2:])
	default:
		return shellescape.Quote(p)
	}
}

func validEnvName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
