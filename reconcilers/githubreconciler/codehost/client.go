/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package codehost reads pull requests from GitHub and maintains the single
// status comment a review reports through.
package codehost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/chainguard-dev/clog"
	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/google/go-github/v84/github"
	"github.com/gregjones/httpcache"
)

// Repo names a repository.
type Repo struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// ParseRepo splits "owner/name".
func ParseRepo(full string) (Repo, error) {
	owner, name, ok := strings.Cut(full, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repo{}, fmt.Errorf("invalid repository %q, expected owner/name", full)
	}
	return Repo{Owner: owner, Name: name}, nil
}

func (r Repo) String() string { return r.Owner + "/" + r.Name }

// PullRequest is the subset of pull request metadata a review needs.
type PullRequest struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body,omitempty"`
	HeadRef string `json:"head_ref"`
	HeadSHA string `json:"head_sha"`
	BaseRef string `json:"base_ref"`
	RepoID  int64  `json:"repo_id"`
}

// ChangedFile is one file touched by a pull request.
type ChangedFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Changes   int    `json:"changes"`
	Patch     string `json:"patch,omitempty"`
}

// Variable is a repository-level Actions variable.
type Variable struct {
	Name  string
	Value string
}

// Client talks to the GitHub REST API.
type Client struct {
	gh *github.Client
	// token mints the credential embedded in clone URLs. Nil clones
	// anonymously.
	token func(context.Context) (string, error)
}

// newHTTPClient layers conditional-request caching under the secondary rate
// limit middleware.
func newHTTPClient(base http.RoundTripper) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	cache := &httpcache.Transport{
		Transport:           base,
		Cache:               httpcache.NewMemoryCache(),
		MarkCachedResponses: true,
	}
	return github_ratelimit.NewClient(cache)
}

// NewTokenClient returns a Client authenticating with a personal or
// installation access token.
func NewTokenClient(token string) *Client {
	return &Client{
		gh:    github.NewClient(newHTTPClient(nil)).WithAuthToken(token),
		token: func(context.Context) (string, error) { return token, nil },
	}
}

// NewAppClient returns a Client authenticating as a GitHub App installation.
// The private key is PEM encoded.
func NewAppClient(appID, installationID int64, privateKey []byte) (*Client, error) {
	itr, err := ghinstallation.New(http.DefaultTransport, appID, installationID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("creating installation transport: %w", err)
	}
	return &Client{gh: github.NewClient(newHTTPClient(itr)), token: itr.Token}, nil
}

// NewClientWithHTTPClient returns a Client sending requests through
// httpClient to baseURL. It is meant for GitHub Enterprise and tests.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	gh := github.NewClient(httpClient)
	gh.BaseURL = u
	return &Client{gh: gh}, nil
}

// CloneURL returns the HTTPS URL git clones repo from. The access token is
// embedded as the password of the x-access-token user, so private
// repositories can be cloned. Installation tokens are refreshed as needed.
func (c *Client) CloneURL(ctx context.Context, repo Repo) (string, error) {
	u := &url.URL{Scheme: "https", Host: "github.com", Path: "/" + repo.String() + ".git"}
	if c.token == nil {
		return u.String(), nil
	}
	tok, err := c.token(ctx)
	if err != nil {
		return "", fmt.Errorf("getting access token: %w", err)
	}
	if tok != "" {
		u.User = url.UserPassword("x-access-token", tok)
	}
	return u.String(), nil
}

// PullRequest fetches pull request metadata.
func (c *Client) PullRequest(ctx context.Context, repo Repo, number int) (PullRequest, error) {
	pr, resp, err := c.gh.PullRequests.Get(ctx, repo.Owner, repo.Name, number)
	if err != nil {
		return PullRequest{}, apiError(fmt.Sprintf("getting %s#%d", repo, number), err)
	}
	logRateLimit(ctx, resp, "pulls.get")
	return PullRequest{
		Number:  pr.GetNumber(),
		Title:   pr.GetTitle(),
		Body:    pr.GetBody(),
		HeadRef: pr.GetHead().GetRef(),
		HeadSHA: pr.GetHead().GetSHA(),
		BaseRef: pr.GetBase().GetRef(),
		RepoID:  pr.GetBase().GetRepo().GetID(),
	}, nil
}

// ChangedFiles lists every file touched by a pull request.
func (c *Client) ChangedFiles(ctx context.Context, repo Repo, number int) ([]ChangedFile, error) {
	opts := &github.ListOptions{PerPage: 100}
	var out []ChangedFile
	for {
		files, resp, err := c.gh.PullRequests.ListFiles(ctx, repo.Owner, repo.Name, number, opts)
		if err != nil {
			return nil, apiError(fmt.Sprintf("listing files for %s#%d (page %d)", repo, number, opts.Page), err)
		}
		logRateLimit(ctx, resp, "pulls.files")
		for _, f := range files {
			out = append(out, ChangedFile{
				Filename:  f.GetFilename(),
				Status:    f.GetStatus(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
				Changes:   f.GetChanges(),
				Patch:     f.GetPatch(),
			})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// FileContent returns the decoded content of a file at ref. An empty ref
// reads the default branch.
func (c *Client) FileContent(ctx context.Context, repo Repo, path, ref string) (string, error) {
	var opts *github.RepositoryContentGetOptions
	if ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: ref}
	}
	file, dir, _, err := c.gh.Repositories.GetContents(ctx, repo.Owner, repo.Name, path, opts)
	if err != nil {
		return "", apiError(fmt.Sprintf("reading %s in %s", path, repo), err)
	}
	if file == nil || dir != nil {
		return "", fmt.Errorf("%s in %s is a directory", path, repo)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", path, err)
	}
	return content, nil
}

// Variables lists the repository's Actions variables.
func (c *Client) Variables(ctx context.Context, repo Repo) ([]Variable, error) {
	opts := &github.ListOptions{PerPage: 30}
	var out []Variable
	for {
		vars, resp, err := c.gh.Actions.ListRepoVariables(ctx, repo.Owner, repo.Name, opts)
		if err != nil {
			return nil, apiError(fmt.Sprintf("listing variables for %s", repo), err)
		}
		for _, v := range vars.Variables {
			out = append(out, Variable{Name: v.Name, Value: v.Value})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// CreateComment posts a comment on a pull request and returns its id.
func (c *Client) CreateComment(ctx context.Context, repo Repo, number int, body string) (int64, error) {
	comment, _, err := c.gh.Issues.CreateComment(ctx, repo.Owner, repo.Name, number, &github.IssueComment{Body: github.Ptr(body)})
	if err != nil {
		return 0, apiError(fmt.Sprintf("commenting on %s#%d", repo, number), err)
	}
	return comment.GetID(), nil
}

// EditComment replaces the body of an existing comment.
func (c *Client) EditComment(ctx context.Context, repo Repo, id int64, body string) error {
	if _, _, err := c.gh.Issues.EditComment(ctx, repo.Owner, repo.Name, id, &github.IssueComment{Body: github.Ptr(body)}); err != nil {
		return apiError(fmt.Sprintf("editing comment %d on %s", id, repo), err)
	}
	return nil
}

// APIError is a non-2xx response from GitHub. Body holds the message GitHub
// returned.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s: github returned %d: %s", e.Operation, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a GitHub 404.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

func apiError(op string, err error) error {
	ae := &APIError{Operation: op, Err: err}
	var (
		er  *github.ErrorResponse
		rle *github.RateLimitError
		are *github.AbuseRateLimitError
	)
	switch {
	case errors.As(err, &er) && er.Response != nil:
		ae.StatusCode, ae.Body = er.Response.StatusCode, er.Message
	case errors.As(err, &rle) && rle.Response != nil:
		ae.StatusCode, ae.Body = rle.Response.StatusCode, rle.Message
	case errors.As(err, &are) && are.Response != nil:
		ae.StatusCode, ae.Body = are.Response.StatusCode, are.Message
	}
	return ae
}

func logRateLimit(ctx context.Context, resp *github.Response, endpoint string) {
	if resp == nil || resp.Rate.Limit == 0 {
		return
	}
	log := clog.FromContext(ctx).With("endpoint", endpoint).
		With("remaining", resp.Rate.Remaining).
		With("limit", resp.Rate.Limit)
	if resp.Rate.Remaining < resp.Rate.Limit/10 {
		log.With("reset", resp.Rate.Reset.Time).Warn("GitHub rate limit running low")
		return
	}
	log.Debug("GitHub rate limit")
}
