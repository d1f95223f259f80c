/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/chainguard-dev/clog"
)

// Config controls exponential backoff for transient upstream failures
// (LLM rate limits, SSH connection refusals while a VM boots, etc).
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	// 0 means run exactly once.
	MaxRetries int
	// BaseBackoff is the wait before the first retry; it doubles per attempt.
	BaseBackoff time.Duration
	// MaxBackoff caps the doubled backoff.
	MaxBackoff time.Duration
	// MaxJitter bounds the random delay added to every wait.
	MaxJitter time.Duration
}

// Validate checks that the configuration has no negative values.
func (c Config) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return errors.New("max retries cannot be negative")
	case c.BaseBackoff < 0:
		return errors.New("base backoff cannot be negative")
	case c.MaxBackoff < 0:
		return errors.New("max backoff cannot be negative")
	case c.MaxJitter < 0:
		return errors.New("max jitter cannot be negative")
	}
	return nil
}

// DefaultConfig returns the policy used for quota-style rate limits.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  5,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Minute,
		MaxJitter:   500 * time.Millisecond,
	}
}

// Backoff returns the wait before retry number attempt (zero based), jitter included.
func (c Config) Backoff(attempt int) time.Duration {
	d := min(c.BaseBackoff<<attempt, c.MaxBackoff)
	if d < 0 {
		// Overflowed the shift.
		d = c.MaxBackoff
	}
	if c.MaxJitter > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(c.MaxJitter))); err == nil {
			d += time.Duration(n.Int64())
		}
	}
	return d
}

// Do runs fn, retrying with exponential backoff while isRetryable reports
// the returned error as transient. Non-retryable errors are returned as-is.
func Do[T any](ctx context.Context, cfg Config, operation string, isRetryable func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	var (
		out     T
		lastErr error
	)
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		out, lastErr = fn(ctx)
		if lastErr == nil {
			return out, nil
		}
		if !isRetryable(lastErr) {
			return out, lastErr
		}
		if attempt == cfg.MaxRetries {
			break
		}

		wait := cfg.Backoff(attempt)
		clog.FromContext(ctx).With("operation", operation).
			With("attempt", attempt+1).
			With("max_retries", cfg.MaxRetries).
			With("backoff", wait).
			With("error", lastErr.Error()).
			Warn("Transient failure, retrying")

		if err := sleep(ctx, wait); err != nil {
			return out, err
		}
	}
	return out, fmt.Errorf("%s failed after %d retries: %w", operation, cfg.MaxRetries, lastErr)
}

// ErrPollExhausted is returned by Poll when check never reports done.
var ErrPollExhausted = errors.New("poll attempts exhausted")

// Poll calls check up to attempts times, waiting a fixed interval between
// calls, until check reports done or returns an error. The wait is
// interrupted when ctx is cancelled. It returns the last value observed and
// the number of checks made.
func Poll[T any](ctx context.Context, interval time.Duration, attempts int, check func(context.Context) (T, bool, error)) (T, int, error) {
	var last T
	for i := 1; i <= attempts; i++ {
		v, done, err := check(ctx)
		if err != nil {
			return v, i, err
		}
		last = v
		if done {
			return v, i, nil
		}
		if i == attempts {
			break
		}
		if err := sleep(ctx, interval); err != nil {
			return last, i, err
		}
	}
	return last, attempts, ErrPollExhausted
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
