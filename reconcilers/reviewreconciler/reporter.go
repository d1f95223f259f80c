/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reviewreconciler

import (
	"context"
	"time"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/vibepr/reconcilers/githubreconciler/codehost"
)

// Reporter keeps the one status comment of a review current. Reporting is
// best effort: failures are logged and never returned.
type Reporter struct {
	host        CodeHost
	repo        codehost.Repo
	pr          int
	commentID   int64
	disabled    bool
	last        string
	lastAt      time.Time
	minInterval time.Duration
	now         func() time.Time
}

func newReporter(host CodeHost, r *Review, minInterval time.Duration, now func() time.Time) *Reporter {
	return &Reporter{
		host:        host,
		repo:        r.Repo,
		pr:          r.PRNumber,
		commentID:   r.CommentID,
		minInterval: minInterval,
		now:         now,
	}
}

// Report renders r and publishes it. The first successful publication
// creates the comment and records its id on r; later ones edit it.
func (rp *Reporter) Report(ctx context.Context, r *Review) {
	rp.publish(ctx, r, Render(r))
}

// Progress is Report rate limited to one edit per minInterval, for
// per-step updates.
func (rp *Reporter) Progress(ctx context.Context, r *Review) {
	if rp.now().Sub(rp.lastAt) < rp.minInterval {
		return
	}
	rp.Report(ctx, r)
}

func (rp *Reporter) publish(ctx context.Context, r *Review, body string) {
	if rp.disabled || body == rp.last {
		return
	}
	log := clog.FromContext(ctx)
	rp.lastAt = rp.now()

	if rp.commentID == 0 {
		id, err := rp.host.CreateComment(ctx, rp.repo, rp.pr, body)
		if err != nil {
			// Without a comment to edit every later update would post a
			// new one.
			log.Error("Failed to post status comment, continuing without progress reports", "error", err)
			rp.disabled = true
			return
		}
		rp.commentID, r.CommentID, rp.last = id, id, body
		return
	}
	if err := rp.host.EditComment(ctx, rp.repo, rp.commentID, body); err != nil {
		log.With("comment_id", rp.commentID).Warn("Failed to update status comment", "error", err)
		return
	}
	rp.last = body
}
