/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/chainguard-dev/clog"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/go-github/v84/github"

	"chainguard.dev/vibepr/reconcilers/githubreconciler/codehost"
	"chainguard.dev/vibepr/reconcilers/reviewreconciler"
)

// reviewer starts and resumes reviews.
type reviewer interface {
	Prepare(ctx context.Context, repo codehost.Repo, number int) (*reviewreconciler.Review, error)
	Run(ctx context.Context, r *reviewreconciler.Review) (*reviewreconciler.Review, error)
	Resume(ctx context.Context, id string) (*reviewreconciler.Review, error)
}

// records reads persisted reviews.
type records interface {
	Get(ctx context.Context, id string) (*reviewreconciler.Review, error)
	ListByPullRequest(ctx context.Context, repo codehost.Repo, number int) ([]*reviewreconciler.Review, error)
}

type unfinishedLister interface {
	ListUnfinished(ctx context.Context) ([]*reviewreconciler.Review, error)
}

// reviewActions are the pull_request actions that start a review.
var reviewActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

type server struct {
	reviews reviewer
	records records
	secret  []byte

	// base outlives any single request; reviews run under it.
	base context.Context
	wg   sync.WaitGroup
}

func newServer(base context.Context, rv reviewer, rec records, secret []byte) *server {
	return &server{reviews: rv, records: rec, secret: secret, base: base}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/webhook", s.handleWebhook)
	r.Post("/reviews", s.handleStartReview)
	r.Get("/reviews/{reviewID}", s.handleGetReview)
	r.Get("/repos/{owner}/{name}/pulls/{number}/reviews", s.handleListReviews)
	return r
}

func (s *server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := github.ValidatePayload(r, s.secret)
	if err != nil {
		respondError(w, http.StatusUnauthorized, fmt.Errorf("validating payload: %w", err))
		return
	}
	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("parsing webhook: %w", err))
		return
	}

	switch ev := event.(type) {
	case *github.PingEvent:
		respondJSON(w, http.StatusOK, map[string]string{"status": "pong"})
	case *github.PullRequestEvent:
		if !reviewActions[ev.GetAction()] {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		repo := codehost.Repo{
			Owner: ev.GetRepo().GetOwner().GetLogin(),
			Name:  ev.GetRepo().GetName(),
		}
		s.startReview(w, r, repo, ev.GetNumber())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

type startRequest struct {
	Repo     string `json:"repo"`
	PRNumber int    `json:"pr_number"`
}

func (s *server) handleStartReview(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	repo, err := codehost.ParseRepo(req.Repo)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.PRNumber <= 0 {
		respondError(w, http.StatusBadRequest, errors.New("pr_number must be positive"))
		return
	}
	s.startReview(w, r, repo, req.PRNumber)
}

// startReview persists a pending review synchronously and runs it in the
// background, answering 202 with its id.
func (s *server) startReview(w http.ResponseWriter, r *http.Request, repo codehost.Repo, number int) {
	review, err := s.reviews.Prepare(r.Context(), repo, number)
	if err != nil {
		status := http.StatusBadGateway
		if codehost.IsNotFound(err) {
			status = http.StatusNotFound
		}
		respondError(w, status, err)
		return
	}
	clog.FromContext(r.Context()).With("review_id", review.ID).With("repo", repo.String()).With("pr", number).
		Info("Starting review")
	s.background(func(ctx context.Context) error {
		_, err := s.reviews.Run(ctx, review)
		return err
	})
	respondJSON(w, http.StatusAccepted, map[string]any{
		"id":         review.ID,
		"repo":       repo.String(),
		"pr_number":  number,
		"commit_sha": review.CommitSHA,
	})
}

func (s *server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	review, err := s.records.Get(r.Context(), chi.URLParam(r, "reviewID"))
	switch {
	case errors.Is(err, reviewreconciler.ErrNotFound):
		respondError(w, http.StatusNotFound, err)
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
	default:
		respondJSON(w, http.StatusOK, review)
	}
}

func (s *server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number <= 0 {
		respondError(w, http.StatusBadRequest, errors.New("invalid pull request number"))
		return
	}
	repo := codehost.Repo{Owner: chi.URLParam(r, "owner"), Name: chi.URLParam(r, "name")}
	reviews, err := s.records.ListByPullRequest(r.Context(), repo, number)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if reviews == nil {
		reviews = []*reviewreconciler.Review{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"reviews": reviews})
}

// resumeUnfinished restarts every persisted review that had not reached a
// terminal status when the process last stopped.
func (s *server) resumeUnfinished(ctx context.Context, store unfinishedLister) error {
	unfinished, err := store.ListUnfinished(ctx)
	if err != nil {
		return err
	}
	for _, r := range unfinished {
		id := r.ID
		clog.FromContext(ctx).With("review_id", id).Info("Resuming unfinished review")
		s.background(func(ctx context.Context) error {
			_, err := s.reviews.Resume(ctx, id)
			return err
		})
	}
	return nil
}

func (s *server) background(fn func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(s.base); err != nil {
			clog.FromContext(s.base).Error("Review stopped before completion", "error", err)
		}
	}()
}

// wait blocks until every background review has returned.
func (s *server) wait() { s.wg.Wait() }

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}
