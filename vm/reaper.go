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
)

// Reaper deletes tagged instances that outlived any plausible review.
type Reaper struct {
	Cloud Cloud
	// TTL is the age past which an instance is considered orphaned.
	TTL time.Duration
	now func() time.Time
}

// NewReaper returns a Reaper for cloud.
func NewReaper(cloud Cloud, ttl time.Duration) *Reaper {
	return &Reaper{Cloud: cloud, TTL: ttl, now: time.Now}
}

// Reap deletes every instance tagged Tag created more than TTL ago and
// returns how many it deleted. Individual delete failures are joined into
// the returned error after the sweep finishes.
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	instances, err := r.Cloud.List(ctx, Tag)
	if err != nil {
		return 0, fmt.Errorf("listing %s instances: %w", Tag, err)
	}
	cutoff := r.now().Add(-r.TTL)

	var (
		deleted int
		errs    []error
	)
	for _, inst := range instances {
		if inst.CreatedAt.IsZero() || inst.CreatedAt.After(cutoff) {
			continue
		}
		log := clog.FromContext(ctx).With("instance_id", inst.ID).With("created_at", inst.CreatedAt)
		if err := r.Cloud.Delete(ctx, inst.ID); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", inst.ID, err))
			continue
		}
		log.Info("Reaped orphaned instance")
		reapedInstances.WithLabelValues(r.Cloud.Name()).Inc()
		deleted++
	}
	return deleted, errors.Join(errs...)
}

// Run calls Reap every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if n, err := r.Reap(ctx); err != nil {
			clog.FromContext(ctx).Warn("Reaper sweep failed", "error", err, "deleted", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
