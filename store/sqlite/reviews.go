/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chainguard.dev/vibepr/reconcilers/githubreconciler/codehost"
	"chainguard.dev/vibepr/reconcilers/reviewreconciler"
)

var _ reviewreconciler.Store = (*ReviewStore)(nil)

// ReviewStore keeps each review as a JSON document next to the columns it
// is queried by.
type ReviewStore struct {
	db *DB
}

// NewReviewStore returns a store backed by db.
func NewReviewStore(db *DB) *ReviewStore {
	return &ReviewStore{db: db}
}

// Save inserts or replaces the review.
func (s *ReviewStore) Save(ctx context.Context, r *reviewreconciler.Review) error {
	const query = `
		INSERT INTO reviews (id, repo, pr_number, commit_sha, status, comment_id, instance_id, started_at, updated_at, completed_at, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			comment_id = excluded.comment_id,
			instance_id = excluded.instance_id,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at,
			document = excluded.document
	`
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode review %s: %w", r.ID, err)
	}
	var completed sql.NullString
	if r.CompletedAt != nil {
		completed = sql.NullString{String: formatTime(*r.CompletedAt), Valid: true}
	}
	_, err = s.db.Writer.ExecContext(ctx, query,
		r.ID, r.Repo.String(), r.PRNumber, r.CommitSHA, string(r.Status), r.CommentID, r.InstanceID,
		formatTime(r.StartedAt), formatTime(r.UpdatedAt), completed, string(doc),
	)
	if err != nil {
		return fmt.Errorf("upsert review %s: %w", r.ID, err)
	}
	return nil
}

// Get returns the review with the given id, or reviewreconciler.ErrNotFound.
func (s *ReviewStore) Get(ctx context.Context, id string) (*reviewreconciler.Review, error) {
	var doc string
	err := s.db.Reader.QueryRowContext(ctx, `SELECT document FROM reviews WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reviewreconciler.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get review %s: %w", id, err)
	}
	return decode(doc)
}

// ListByPullRequest returns the reviews of one pull request, newest first.
func (s *ReviewStore) ListByPullRequest(ctx context.Context, repo codehost.Repo, number int) ([]*reviewreconciler.Review, error) {
	const query = `
		SELECT document FROM reviews
		WHERE repo = ? AND pr_number = ?
		ORDER BY started_at DESC
	`
	return s.list(ctx, query, repo.String(), number)
}

// ListUnfinished returns reviews that have not reached a terminal status,
// oldest first. These are the candidates for resumption after a restart.
func (s *ReviewStore) ListUnfinished(ctx context.Context) ([]*reviewreconciler.Review, error) {
	const query = `
		SELECT document FROM reviews
		WHERE status NOT IN (?, ?)
		ORDER BY started_at ASC
	`
	return s.list(ctx, query, string(reviewreconciler.StatusComplete), string(reviewreconciler.StatusFailed))
}

func (s *ReviewStore) list(ctx context.Context, query string, args ...any) ([]*reviewreconciler.Review, error) {
	rows, err := s.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var out []*reviewreconciler.Review
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		r, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return out, nil
}

func decode(doc string) (*reviewreconciler.Review, error) {
	var r reviewreconciler.Review
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("decode review: %w", err)
	}
	return &r, nil
}

// formatTime uses a fixed-width layout so text ordering matches time
// ordering.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}
