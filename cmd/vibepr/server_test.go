/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"chainguard.dev/vibepr/reconcilers/githubreconciler/codehost"
	"chainguard.dev/vibepr/reconcilers/reviewreconciler"
)

var webhookSecret = []byte("s3cr3t")

type fakeReviewer struct {
	prepareErr error

	mu       sync.Mutex
	prepared []string
	ran      []string
	resumed  []string
}

func (f *fakeReviewer) Prepare(_ context.Context, repo codehost.Repo, number int) (*reviewreconciler.Review, error) {
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared = append(f.prepared, repo.String())
	return &reviewreconciler.Review{ID: "review-1", Repo: repo, PRNumber: number, CommitSHA: "0123456789abcdef"}, nil
}

func (f *fakeReviewer) Run(_ context.Context, r *reviewreconciler.Review) (*reviewreconciler.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, r.ID)
	return r, nil
}

func (f *fakeReviewer) Resume(_ context.Context, id string) (*reviewreconciler.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, id)
	return &reviewreconciler.Review{ID: id}, nil
}

type fakeRecords struct {
	reviews []*reviewreconciler.Review
	err     error
}

func (f *fakeRecords) Get(_ context.Context, id string) (*reviewreconciler.Review, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, r := range f.reviews {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, reviewreconciler.ErrNotFound
}

func (f *fakeRecords) ListByPullRequest(_ context.Context, repo codehost.Repo, number int) ([]*reviewreconciler.Review, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*reviewreconciler.Review
	for _, r := range f.reviews {
		if r.Repo == repo && r.PRNumber == number {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRecords) ListUnfinished(context.Context) ([]*reviewreconciler.Review, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*reviewreconciler.Review
	for _, r := range f.reviews {
		if !r.Status.Terminal() {
			out = append(out, r)
		}
	}
	return out, nil
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, webhookSecret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func pullRequestPayload(action string) []byte {
	return []byte(`{"action":"` + action + `","number":7,"repository":{"name":"shop","owner":{"login":"acme"}}}`)
}

func TestWebhook(t *testing.T) {
	tests := []struct {
		name         string
		event        string
		body         []byte
		signature    string
		wantStatus   int
		wantPrepared []string
	}{{
		name:         "opened starts a review",
		event:        "pull_request",
		body:         pullRequestPayload("opened"),
		wantStatus:   http.StatusAccepted,
		wantPrepared: []string{"acme/shop"},
	}, {
		name:         "synchronize starts a review",
		event:        "pull_request",
		body:         pullRequestPayload("synchronize"),
		wantStatus:   http.StatusAccepted,
		wantPrepared: []string{"acme/shop"},
	}, {
		name:       "closed is ignored",
		event:      "pull_request",
		body:       pullRequestPayload("closed"),
		wantStatus: http.StatusNoContent,
	}, {
		name:       "ping",
		event:      "ping",
		body:       []byte(`{"zen":"Keep it logically awesome.","hook_id":1}`),
		wantStatus: http.StatusOK,
	}, {
		name:       "other events are ignored",
		event:      "issues",
		body:       []byte(`{"action":"opened"}`),
		wantStatus: http.StatusNoContent,
	}, {
		name:       "bad signature",
		event:      "pull_request",
		body:       pullRequestPayload("opened"),
		signature:  "sha256=" + hex.EncodeToString(make([]byte, sha256.Size)),
		wantStatus: http.StatusUnauthorized,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rv := &fakeReviewer{}
			srv := newServer(context.Background(), rv, &fakeRecords{}, webhookSecret)

			sig := tt.signature
			if sig == "" {
				sig = sign(tt.body)
			}
			req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-GitHub-Event", tt.event)
			req.Header.Set("X-Hub-Signature-256", sig)
			rec := httptest.NewRecorder()

			srv.routes().ServeHTTP(rec, req)
			srv.wait()

			if rec.Code != tt.wantStatus {
				t.Errorf("status: got = %d, wanted = %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if diff := cmp.Diff(tt.wantPrepared, rv.prepared); diff != "" {
				t.Errorf("prepared (-want +got):\n%s", diff)
			}
			if len(rv.ran) != len(tt.wantPrepared) {
				t.Errorf("runs: got = %d, wanted = %d", len(rv.ran), len(tt.wantPrepared))
			}
		})
	}
}

func TestStartReview(t *testing.T) {
	notFound := &codehost.APIError{Operation: "get pull request", StatusCode: http.StatusNotFound, Body: "Not Found"}

	tests := []struct {
		name       string
		body       string
		prepareErr error
		wantStatus int
		wantRuns   int
	}{{
		name:       "starts",
		body:       `{"repo":"acme/shop","pr_number":7}`,
		wantStatus: http.StatusAccepted,
		wantRuns:   1,
	}, {
		name:       "invalid repo",
		body:       `{"repo":"shop","pr_number":7}`,
		wantStatus: http.StatusBadRequest,
	}, {
		name:       "missing number",
		body:       `{"repo":"acme/shop"}`,
		wantStatus: http.StatusBadRequest,
	}, {
		name:       "unknown field",
		body:       `{"repo":"acme/shop","pr_number":7,"force":true}`,
		wantStatus: http.StatusBadRequest,
	}, {
		name:       "pull request not found",
		body:       `{"repo":"acme/shop","pr_number":7}`,
		prepareErr: notFound,
		wantStatus: http.StatusNotFound,
	}, {
		name:       "github unavailable",
		body:       `{"repo":"acme/shop","pr_number":7}`,
		prepareErr: errors.New("fetching pull request: connection reset"),
		wantStatus: http.StatusBadGateway,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rv := &fakeReviewer{prepareErr: tt.prepareErr}
			srv := newServer(context.Background(), rv, &fakeRecords{}, webhookSecret)

			rec := httptest.NewRecorder()
			srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reviews", bytes.NewBufferString(tt.body)))
			srv.wait()

			if rec.Code != tt.wantStatus {
				t.Errorf("status: got = %d, wanted = %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if len(rv.ran) != tt.wantRuns {
				t.Errorf("runs: got = %d, wanted = %d", len(rv.ran), tt.wantRuns)
			}
			if tt.wantStatus != http.StatusAccepted {
				return
			}
			var got map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if got["id"] != "review-1" || got["repo"] != "acme/shop" {
				t.Errorf("response: got = %v, wanted id review-1 for acme/shop", got)
			}
		})
	}
}

func TestGetReview(t *testing.T) {
	shop := codehost.Repo{Owner: "acme", Name: "shop"}
	records := &fakeRecords{reviews: []*reviewreconciler.Review{{
		ID:       "abc",
		Repo:     shop,
		PRNumber: 7,
		Status:   reviewreconciler.StatusComplete,
	}}}
	srv := newServer(context.Background(), &fakeReviewer{}, records, webhookSecret)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantID     string
	}{{
		name:       "found",
		path:       "/reviews/abc",
		wantStatus: http.StatusOK,
		wantID:     "abc",
	}, {
		name:       "missing",
		path:       "/reviews/nope",
		wantStatus: http.StatusNotFound,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status: got = %d, wanted = %d", rec.Code, tt.wantStatus)
			}
			if tt.wantID == "" {
				return
			}
			var got reviewreconciler.Review
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("decoding review: %v", err)
			}
			if got.ID != tt.wantID || got.Repo != shop || got.Status != reviewreconciler.StatusComplete {
				t.Errorf("review: got = %+v, wanted id %s of %s, complete", got, tt.wantID, shop)
			}
		})
	}
}

func TestListReviews(t *testing.T) {
	shop := codehost.Repo{Owner: "acme", Name: "shop"}
	records := &fakeRecords{reviews: []*reviewreconciler.Review{
		{ID: "a", Repo: shop, PRNumber: 7},
		{ID: "b", Repo: shop, PRNumber: 8},
		{ID: "c", Repo: shop, PRNumber: 7},
	}}
	srv := newServer(context.Background(), &fakeReviewer{}, records, webhookSecret)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantIDs    []string
	}{{
		name:       "one pull request",
		path:       "/repos/acme/shop/pulls/7/reviews",
		wantStatus: http.StatusOK,
		wantIDs:    []string{"a", "c"},
	}, {
		name:       "none",
		path:       "/repos/acme/shop/pulls/9/reviews",
		wantStatus: http.StatusOK,
		wantIDs:    []string{},
	}, {
		name:       "bad number",
		path:       "/repos/acme/shop/pulls/seven/reviews",
		wantStatus: http.StatusBadRequest,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status: got = %d, wanted = %d", rec.Code, tt.wantStatus)
			}
			if tt.wantIDs == nil {
				return
			}
			var got struct {
				Reviews []reviewreconciler.Review `json:"reviews"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("decoding reviews: %v", err)
			}
			ids := []string{}
			for _, r := range got.Reviews {
				ids = append(ids, r.ID)
			}
			if diff := cmp.Diff(tt.wantIDs, ids); diff != "" {
				t.Errorf("ids (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResumeUnfinished(t *testing.T) {
	records := &fakeRecords{reviews: []*reviewreconciler.Review{
		{ID: "done", Status: reviewreconciler.StatusComplete},
		{ID: "generating", Status: reviewreconciler.StatusInProgress},
		{ID: "queued", Status: reviewreconciler.StatusPending},
		{ID: "broken", Status: reviewreconciler.StatusFailed},
	}}
	rv := &fakeReviewer{}
	srv := newServer(context.Background(), rv, records, webhookSecret)

	if err := srv.resumeUnfinished(context.Background(), records); err != nil {
		t.Fatalf("resumeUnfinished() = %v", err)
	}
	srv.wait()

	sort.Strings(rv.resumed)
	if diff := cmp.Diff([]string{"generating", "queued"}, rv.resumed); diff != "" {
		t.Errorf("resumed (-want +got):\n%s", diff)
	}

	boom := errors.New("database is locked")
	if err := srv.resumeUnfinished(context.Background(), &fakeRecords{err: boom}); !errors.Is(err, boom) {
		t.Errorf("resumeUnfinished(): got = %v, wanted = %v", err, boom)
	}
}

func TestHealthz(t *testing.T) {
	srv := newServer(context.Background(), &fakeReviewer{}, &fakeRecords{}, webhookSecret)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status: got = %d, wanted = %d", rec.Code, http.StatusOK)
	}
}
