/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package vm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/vibepr/agents/executor/retry"
)

// Tag marks every instance this package creates.
const Tag = "vibepr"

// ReviewTag returns the per-review tag.
func ReviewTag(reviewID string) string { return "vibepr-review-" + reviewID }

// Runner executes commands on a connected instance.
type Runner interface {
	Run(ctx context.Context, cmd string, stdin []byte) (CommandResult, error)
	Close() error
}

// Dialer connects to an instance's public address.
type Dialer interface {
	Dial(ctx context.Context, host string) (Runner, error)
}

// Manager provisions instances on a Cloud. It implements Provisioner.
type Manager struct {
	cloud        Cloud
	dialer       Dialer
	pollInterval time.Duration
	pollAttempts int
	dialRetry    retry.Config
	bootScript   string
	waitForBoot  bool
	now          func() time.Time
}

var _ Provisioner = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager) error

// WithPolling sets the readiness poll interval and attempt ceiling.
func WithPolling(interval time.Duration, attempts int) Option {
	return func(m *Manager) error {
		if interval <= 0 {
			return fmt.Errorf("poll interval must be positive, got %s", interval)
		}
		if attempts <= 0 {
			return fmt.Errorf("poll attempts must be positive, got %d", attempts)
		}
		m.pollInterval, m.pollAttempts = interval, attempts
		return nil
	}
}

// WithDialRetry sets the backoff used while the instance's SSH daemon is
// still coming up.
func WithDialRetry(cfg retry.Config) Option {
	return func(m *Manager) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("dial retry: %w", err)
		}
		m.dialRetry = cfg
		return nil
	}
}

// WithBootScript replaces the cloud-init user data.
func WithBootScript(script string) Option {
	return func(m *Manager) error {
		m.bootScript = script
		return nil
	}
}

// WithoutBootWait skips waiting for cloud-init to finish after connecting.
func WithoutBootWait() Option {
	return func(m *Manager) error {
		m.waitForBoot = false
		return nil
	}
}

// NewManager returns a Manager creating instances on cloud and reaching
// them through dialer. The defaults poll every 5s for up to 20 attempts.
func NewManager(cloud Cloud, dialer Dialer, opts ...Option) (*Manager, error) {
	if cloud == nil || dialer == nil {
		return nil, errors.New("cloud and dialer are required")
	}
	m := &Manager{
		cloud:        cloud,
		dialer:       dialer,
		pollInterval: 5 * time.Second,
		pollAttempts: 20,
		dialRetry: retry.Config{
			MaxRetries:  10,
			BaseBackoff: 3 * time.Second,
			MaxBackoff:  15 * time.Second,
			MaxJitter:   500 * time.Millisecond,
		},
		bootScript:  BootScript,
		waitForBoot: true,
		now:         time.Now,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Provision creates an instance, waits for it to become ready and connects
// to it. If anything after creation fails the instance is deleted.
func (m *Manager) Provision(ctx context.Context, req Request) (Handle, error) {
	start := m.now()
	h, err := m.provision(ctx, req)
	outcome := "success"
	var te *ProvisionTimeoutError
	switch {
	case errors.As(err, &te):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	provisionSeconds.WithLabelValues(m.cloud.Name(), outcome).Observe(m.now().Sub(start).Seconds())
	return h, err
}

func (m *Manager) provision(ctx context.Context, req Request) (Handle, error) {
	tags := []string{Tag, "testing"}
	if req.ReviewID != "" {
		tags = append(tags, ReviewTag(req.ReviewID))
	}
	spec := InstanceSpec{
		Name:     fmt.Sprintf("vibepr-test-%d", m.now().UnixMilli()),
		Tags:     tags,
		UserData: m.bootScript,
	}

	log := clog.FromContext(ctx).With("provider", m.cloud.Name()).With("instance_name", spec.Name)
	id, err := m.cloud.Create(ctx, spec)
	if err != nil {
		var pe *ProvisionError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, &ProvisionError{Provider: m.cloud.Name(), Err: err}
	}
	log = log.With("instance_id", id)
	log.Info("Instance created, waiting for it to become ready")

	inst, attempts, err := retry.Poll(ctx, m.pollInterval, m.pollAttempts, func(ctx context.Context) (Instance, bool, error) {
		inst, err := m.cloud.Get(ctx, id)
		if err != nil {
			return inst, false, fmt.Errorf("getting instance %s: %w", id, err)
		}
		log.With("status", inst.Status).Debug("Polled instance")
		return inst, inst.Ready && inst.PublicIP != "", nil
	})
	if err != nil {
		m.discard(ctx, id)
		if errors.Is(err, retry.ErrPollExhausted) {
			return nil, &ProvisionTimeoutError{
				InstanceID: id,
				Attempts:   attempts,
				Interval:   m.pollInterval,
				LastStatus: inst.Status,
			}
		}
		return nil, err
	}
	log = log.With("ip", inst.PublicIP)
	log.Info("Instance ready, connecting")

	runner, err := retry.Do(ctx, m.dialRetry, "ssh_dial", func(err error) bool {
		return ctx.Err() == nil
	}, func(ctx context.Context) (Runner, error) {
		return m.dialer.Dial(ctx, inst.PublicIP)
	})
	if err != nil {
		m.discard(ctx, id)
		return nil, fmt.Errorf("connecting to instance %s: %w", id, err)
	}

	h := newHandle(m.cloud, id, StreamURL(inst.PublicIP), runner)
	if m.waitForBoot {
		res, err := h.Bash(ctx, "cloud-init status --wait >/dev/null 2>&1 || true")
		if err != nil {
			_ = h.Stop(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("waiting for boot on %s: %w", id, err)
		}
		log.With("exit_code", res.ExitCode).Info("Instance booted")
	}
	return h, nil
}

// Release deletes an instance created by an earlier process.
func (m *Manager) Release(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("instance id is required")
	}
	if err := m.cloud.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting instance %s: %w", id, err)
	}
	return nil
}

// discard best-effort deletes an instance that never became usable.
func (m *Manager) discard(ctx context.Context, id string) {
	if err := m.cloud.Delete(context.WithoutCancel(ctx), id); err != nil {
		clog.FromContext(ctx).With("instance_id", id).
			Warn("Failed to delete unusable instance; the reaper will collect it", "error", err)
	}
}

// StreamURL is the noVNC page served on the instance.
func StreamURL(ip string) string {
	return fmt.Sprintf("http://%s:6080/vnc.html", ip)
}
