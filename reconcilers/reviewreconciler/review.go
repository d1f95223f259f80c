/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reviewreconciler

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"chainguard.dev/vibepr/agents/driver"
	"chainguard.dev/vibepr/reconcilers/githubreconciler/codehost"
)

// Status is the lifecycle state of a phase or a whole review.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s can no longer change.
func (s Status) Terminal() bool { return s == StatusComplete || s == StatusFailed }

// PhaseName identifies one of the three review phases.
type PhaseName string

const (
	PhaseGenerate PhaseName = "generate"
	PhaseSetup    PhaseName = "setup"
	PhaseExecute  PhaseName = "execute"
)

// Phases lists the phases in the order they run.
var Phases = []PhaseName{PhaseGenerate, PhaseSetup, PhaseExecute}

// Phase is the status block shared by every phase.
type Phase struct {
	Status      Status     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// begin moves a pending phase to in_progress.
func (p *Phase) begin(now time.Time) error {
	if p.Status != StatusPending {
		return fmt.Errorf("cannot start phase in state %s", p.Status)
	}
	p.Status, p.StartedAt, p.CompletedAt, p.Error = StatusInProgress, &now, nil, ""
	return nil
}

// end moves an in_progress phase to complete, or to failed when err is
// non-nil.
func (p *Phase) end(now time.Time, err error) error {
	if p.Status != StatusInProgress {
		return fmt.Errorf("cannot finish phase in state %s", p.Status)
	}
	p.CompletedAt = &now
	if err != nil {
		p.Status, p.Error = StatusFailed, err.Error()
		return nil
	}
	p.Status = StatusComplete
	return nil
}

func (p *Phase) reset() { *p = Phase{Status: StatusPending} }

// Priority ranks a test case for presentation. It does not affect the order
// tests run in.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// TestCase is one generated UI test. It is immutable once generated.
type TestCase struct {
	Name           string   `json:"name" yaml:"name" jsonschema:"required,description=Short descriptive test name"`
	Description    string   `json:"description" yaml:"description" jsonschema:"required,description=Which part of the user experience this test covers"`
	Prerequisites  []string `json:"prerequisites" yaml:"prerequisites" jsonschema:"description=What must be true before starting, such as being logged in"`
	Steps          []string `json:"steps" yaml:"steps" jsonschema:"required,description=Concrete UI steps anyone can follow"`
	ExpectedResult string   `json:"expected_result" yaml:"expected_result" jsonschema:"required,description=Exactly what the user should see"`
	Priority       Priority `json:"priority" yaml:"priority" jsonschema:"required,enum=low,enum=medium,enum=high"`
}

// GeneratePhase holds the test plan produced from the pull request.
type GeneratePhase struct {
	Phase
	CodebaseSummary       string                 `json:"codebase_summary,omitempty"`
	PRChangesSummary      string                 `json:"pr_changes_summary,omitempty"`
	GeneratedTests        []TestCase             `json:"generated_tests,omitempty"`
	AutoSetupInstructions string                 `json:"auto_setup_instructions,omitempty"`
	SetupConfigContent    string                 `json:"setup_config_content,omitempty"`
	ChangedFiles          []codehost.ChangedFile `json:"changed_files,omitempty"`
}

// SetupPhase holds the log of preparing the VM.
type SetupPhase struct {
	Phase
	Steps []driver.TimestampedStep `json:"steps,omitempty"`
	// Warning is a non-fatal problem shown alongside the setup progress.
	Warning string `json:"warning,omitempty"`
}

// TestResult is the outcome of one test case.
type TestResult struct {
	TestNumber int                      `json:"test_number"`
	TestName   string                   `json:"test_name"`
	Success    bool                     `json:"success"`
	Error      string                   `json:"error,omitempty"`
	Notes      string                   `json:"notes,omitempty"`
	Steps      []driver.TimestampedStep `json:"steps,omitempty"`
}

// ExecutePhase holds test results in test order.
type ExecutePhase struct {
	Phase
	TestResults []TestResult `json:"test_results,omitempty"`
	// Current is the test being run, if any.
	Current *TestResult `json:"current,omitempty"`
}

// Review is one UI test run of a pull request commit.
type Review struct {
	ID          string        `json:"id"`
	Repo        codehost.Repo `json:"repo"`
	RepoID      int64         `json:"repo_id"`
	PRNumber    int           `json:"pr_number"`
	PRTitle     string        `json:"pr_title"`
	PRBody      string        `json:"pr_body,omitempty"`
	HeadRef     string        `json:"head_ref"`
	CommitSHA   string        `json:"commit_sha"`
	InstanceID  string        `json:"instance_id,omitempty"`
	StreamURL   string        `json:"stream_url,omitempty"`
	CommentID   int64         `json:"comment_id,omitempty"`
	Status      Status        `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
	TotalTests  int           `json:"total_tests"`
	PassedTests int           `json:"passed_tests"`

	Generate GeneratePhase `json:"generate"`
	Setup    SetupPhase    `json:"setup"`
	Execute  ExecutePhase  `json:"execute"`
}

// NewReview returns a pending review of the pull request's head commit.
func NewReview(repo codehost.Repo, pr codehost.PullRequest, now time.Time) *Review {
	return &Review{
		ID:        uuid.NewString(),
		Repo:      repo,
		RepoID:    pr.RepoID,
		PRNumber:  pr.Number,
		PRTitle:   pr.Title,
		PRBody:    pr.Body,
		HeadRef:   pr.HeadRef,
		CommitSHA: pr.HeadSHA,
		Status:    StatusPending,
		StartedAt: now,
		UpdatedAt: now,
		Generate:  GeneratePhase{Phase: Phase{Status: StatusPending}},
		Setup:     SetupPhase{Phase: Phase{Status: StatusPending}},
		Execute:   ExecutePhase{Phase: Phase{Status: StatusPending}},
	}
}

// Phase returns the status block of the named phase.
func (r *Review) Phase(name PhaseName) *Phase {
	switch name {
	case PhaseGenerate:
		return &r.Generate.Phase
	case PhaseSetup:
		return &r.Setup.Phase
	case PhaseExecute:
		return &r.Execute.Phase
	}
	panic(fmt.Sprintf("unknown phase %q", name))
}

// DerivedStatus computes the overall status from the phases: failed if any
// phase failed, complete when all are, in_progress once any has started.
func (r *Review) DerivedStatus() Status {
	started, complete := false, 0
	for _, name := range Phases {
		switch r.Phase(name).Status {
		case StatusFailed:
			return StatusFailed
		case StatusComplete:
			started = true
			complete++
		case StatusInProgress:
			started = true
		}
	}
	switch {
	case complete == len(Phases):
		return StatusComplete
	case started:
		return StatusInProgress
	}
	return StatusPending
}

// refresh recomputes Status. A terminal status is never revised.
func (r *Review) refresh(now time.Time) {
	r.UpdatedAt = now
	if r.Status.Terminal() {
		return
	}
	r.Status = r.DerivedStatus()
	if r.Status.Terminal() {
		r.CompletedAt = &now
	}
}

// FailedPhase returns the first failed phase, if any.
func (r *Review) FailedPhase() (PhaseName, bool) {
	for _, name := range Phases {
		if r.Phase(name).Status == StatusFailed {
			return name, true
		}
	}
	return "", false
}

// ContentRef is the ref repository contents are read at. The commit pins
// the review even when the head branch moves or lives in a fork.
func (r *Review) ContentRef() string {
	if r.CommitSHA != "" {
		return r.CommitSHA
	}
	return r.HeadRef
}

// ShortSHA is the abbreviated commit shown in comments.
func (r *Review) ShortSHA() string {
	if len(r.CommitSHA) > 7 {
		return r.CommitSHA[:7]
	}
	return r.CommitSHA
}

// RepoPath is where the repository is checked out on the VM.
func (r *Review) RepoPath() string { return "~/" + r.Repo.Name }

func (tc TestCase) validate(i int) []string {
	var problems []string
	if strings.TrimSpace(tc.Name) == "" {
		problems = append(problems, fmt.Sprintf("tests[%d].name is required", i))
	}
	if len(tc.Steps) == 0 {
		problems = append(problems, fmt.Sprintf("tests[%d].steps must not be empty", i))
	}
	if strings.TrimSpace(tc.ExpectedResult) == "" {
		problems = append(problems, fmt.Sprintf("tests[%d].expected_result is required", i))
	}
	switch tc.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		problems = append(problems, fmt.Sprintf("tests[%d].priority must be low, medium or high, got %q", i, tc.Priority))
	}
	return problems
}
