/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reviewreconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/vibepr/agents/agenttrace"
	"chainguard.dev/vibepr/agents/driver"
	"chainguard.dev/vibepr/agents/executor/retry"
	"chainguard.dev/vibepr/agents/gateway"
	"chainguard.dev/vibepr/reconcilers/githubreconciler/codehost"
	"chainguard.dev/vibepr/vm"
)

// CodeHost is the subset of the GitHub client a review uses.
type CodeHost interface {
	PullRequest(ctx context.Context, repo codehost.Repo, number int) (codehost.PullRequest, error)
	ChangedFiles(ctx context.Context, repo codehost.Repo, number int) ([]codehost.ChangedFile, error)
	FileContent(ctx context.Context, repo codehost.Repo, path, ref string) (string, error)
	Tree(ctx context.Context, repo codehost.Repo, ref string, maxDepth int) (string, error)
	Variables(ctx context.Context, repo codehost.Repo) ([]codehost.Variable, error)
	CreateComment(ctx context.Context, repo codehost.Repo, number int, body string) (int64, error)
	EditComment(ctx context.Context, repo codehost.Repo, id int64, body string) error
}

// Agent runs one driver task on a VM. *driver.Driver implements it.
type Agent interface {
	Run(ctx context.Context, task driver.Task, h vm.Handle, onStep func(driver.TimestampedStep)) (driver.Result, error)
}

// ErrNotFound is returned by a Store for unknown review ids.
var ErrNotFound = errors.New("review not found")

// Store persists reviews.
type Store interface {
	Save(ctx context.Context, r *Review) error
	Get(ctx context.Context, id string) (*Review, error)
}

// Event announces a phase transition or the end of a review. Phase is
// empty for review-level events.
type Event struct {
	ReviewID  string    `json:"review_id"`
	Repo      string    `json:"repo"`
	PRNumber  int       `json:"pr_number"`
	CommitSHA string    `json:"commit_sha"`
	Phase     PhaseName `json:"phase,omitempty"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Notifier receives review events. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Orchestrator runs reviews through generate, setup and execute.
type Orchestrator struct {
	host        CodeHost
	completer   gateway.Completer
	provisioner vm.Provisioner
	agent       Agent
	store       Store
	notifier    Notifier

	provider           string
	model              string
	retry              retry.Config
	summaryConcurrency int
	treeDepth          int
	progressInterval   time.Duration
	stopTimeout        time.Duration
	cloneURL           func(context.Context, codehost.Repo) (string, error)

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithNotifier publishes review events to n.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) error {
		o.notifier = n
		return nil
	}
}

// WithGenerateModel selects the provider and model for the generate phase.
func WithGenerateModel(provider, model string) Option {
	return func(o *Orchestrator) error {
		if provider == "" || model == "" {
			return errors.New("generate provider and model are required")
		}
		o.provider, o.model = provider, model
		return nil
	}
}

// WithRetry sets the retry policy for generate-phase completions.
func WithRetry(cfg retry.Config) Option {
	return func(o *Orchestrator) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("retry config: %w", err)
		}
		o.retry = cfg
		return nil
	}
}

// WithSummaryConcurrency bounds concurrent file summaries.
func WithSummaryConcurrency(n int) Option {
	return func(o *Orchestrator) error {
		if n <= 0 {
			return fmt.Errorf("summary concurrency must be positive, got %d", n)
		}
		o.summaryConcurrency = n
		return nil
	}
}

// WithProgressInterval rate limits per-step comment edits. Zero edits on
// every step.
func WithProgressInterval(d time.Duration) Option {
	return func(o *Orchestrator) error {
		if d < 0 {
			return fmt.Errorf("progress interval must not be negative, got %v", d)
		}
		o.progressInterval = d
		return nil
	}
}

// WithCloneURL overrides how the URL the VM clones a repository from is
// built, for example to embed an installation token for private
// repositories. Credentials in the URL are redacted from setup errors.
func WithCloneURL(fn func(context.Context, codehost.Repo) (string, error)) Option {
	return func(o *Orchestrator) error {
		if fn == nil {
			return errors.New("clone URL func is nil")
		}
		o.cloneURL = fn
		return nil
	}
}

// New returns an Orchestrator wired to its collaborators.
func New(host CodeHost, completer gateway.Completer, provisioner vm.Provisioner, agent Agent, store Store, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		host:               host,
		completer:          completer,
		provisioner:        provisioner,
		agent:              agent,
		store:              store,
		provider:           "google-ai-studio",
		model:              "gemini-2.5-flash",
		retry:              retry.DefaultConfig(),
		summaryConcurrency: 4,
		treeDepth:          codehost.DefaultTreeDepth,
		progressInterval:   3 * time.Second,
		stopTimeout:        2 * time.Minute,
		cloneURL:           publicCloneURL,
		now:                time.Now,
		sleep:              sleep,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func publicCloneURL(_ context.Context, r codehost.Repo) (string, error) {
	return "https://github.com/" + r.String() + ".git", nil
}

// RunReview reviews the head commit of a pull request. See Run.
func (o *Orchestrator) RunReview(ctx context.Context, repo codehost.Repo, number int) (*Review, error) {
	r, err := o.Prepare(ctx, repo, number)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, r)
}

// Prepare creates and persists a pending review of the pull request's head
// commit without running it.
func (o *Orchestrator) Prepare(ctx context.Context, repo codehost.Repo, number int) (*Review, error) {
	pr, err := o.host.PullRequest(ctx, repo, number)
	if err != nil {
		return nil, fmt.Errorf("fetching pull request: %w", err)
	}
	r := NewReview(repo, pr, o.now())
	if err := o.persist(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Resume continues a persisted review at its first incomplete phase. A
// phase interrupted mid-flight starts over. The VM does not outlive the
// process that created it, so setup runs again whenever execute has not
// completed, after a best-effort release of the recorded instance. A
// terminal review is returned unchanged.
func (o *Orchestrator) Resume(ctx context.Context, id string) (*Review, error) {
	r, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return r, nil
	}
	if r.Generate.Status != StatusComplete {
		r.Generate = GeneratePhase{}
		r.Generate.reset()
	}
	if r.Execute.Status != StatusComplete {
		if r.InstanceID != "" {
			o.release(ctx, r.InstanceID)
		}
		r.Setup, r.Execute = SetupPhase{}, ExecutePhase{}
		r.Setup.reset()
		r.Execute.reset()
		r.InstanceID, r.StreamURL, r.PassedTests = "", "", 0
	}
	r.refresh(o.now())
	clog.FromContext(ctx).With("review_id", r.ID).Info("Resuming review")
	return o.Run(ctx, r)
}

// release deletes an instance left behind by an interrupted run. Failure
// leaves it to the reaper.
func (o *Orchestrator) release(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.stopTimeout)
	defer cancel()
	log := clog.FromContext(ctx).With("instance_id", id)
	if err := o.provisioner.Release(ctx, id); err != nil {
		log.Warn("Failed to release VM of interrupted review, leaving it to the reaper", "error", err)
		return
	}
	log.Info("Released VM of interrupted review")
}

// Run drives r through every phase that is not yet complete. Phases run
// strictly in order and each transition is persisted before the next phase
// starts. A failed phase ends the review; its error is recorded on the
// review, reported on the pull request and not returned. The returned
// error is non-nil only when the review could not be persisted, in which
// case r is left resumable from the last persisted transition.
//
// A provisioned VM is stopped exactly once before Run returns, whatever
// the outcome.
func (o *Orchestrator) Run(ctx context.Context, r *Review) (out *Review, err error) {
	log := clog.FromContext(ctx).With("review_id", r.ID).With("repo", r.Repo.String()).With("pr", r.PRNumber)
	ctx = clog.WithLogger(ctx, log)
	rep := newReporter(o.host, r, o.progressInterval, o.now)

	var handle vm.Handle
	defer func() {
		if handle == nil {
			return
		}
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.stopTimeout)
		defer cancel()
		if err := handle.Stop(stopCtx); err != nil {
			log.With("instance_id", handle.ID()).Warn("Failed to stop VM, leaving it to the reaper", "error", err)
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			log.Error("Review panicked", "panic", p)
			o.abort(r, fmt.Errorf("internal error: %v", p))
			out, err = r, o.finish(ctx, r, rep)
		}
	}()

	rep.Report(ctx, r)

	phases := []struct {
		name PhaseName
		run  func(context.Context) error
	}{
		{PhaseGenerate, func(ctx context.Context) error { return o.generate(ctx, r) }},
		{PhaseSetup, func(ctx context.Context) error { return o.setup(ctx, r, rep, &handle) }},
		{PhaseExecute, func(ctx context.Context) error { return o.execute(ctx, r, rep, handle) }},
	}
	for _, ph := range phases {
		if r.Phase(ph.name).Status == StatusComplete {
			continue
		}
		if err := o.runPhase(ctx, r, rep, ph.name, ph.run); err != nil {
			return r, err
		}
		if r.Phase(ph.name).Status == StatusFailed {
			break
		}
	}
	return r, o.finish(ctx, r, rep)
}

func (o *Orchestrator) runPhase(ctx context.Context, r *Review, rep *Reporter, name PhaseName, run func(context.Context) error) error {
	log := clog.FromContext(ctx).With("phase", string(name))
	ctx = clog.WithLogger(ctx, log)
	ctx = agenttrace.WithExecutionContext(ctx, executionContext(r, name, 0))

	p := r.Phase(name)
	start := o.now()
	if err := p.begin(start); err != nil {
		return err
	}
	if err := o.transition(ctx, r, rep, name); err != nil {
		return err
	}
	log.Info("Phase started")

	perr := run(ctx)
	if perr != nil {
		log.Error("Phase failed", "error", perr)
	} else {
		log.Info("Phase complete")
	}
	if err := p.end(o.now(), perr); err != nil {
		return err
	}
	phaseDuration.WithLabelValues(string(name), string(p.Status)).Observe(o.now().Sub(start).Seconds())
	return o.transition(ctx, r, rep, name)
}

// transition persists a phase change, then announces and reports it.
func (o *Orchestrator) transition(ctx context.Context, r *Review, rep *Reporter, name PhaseName) error {
	r.refresh(o.now())
	if err := o.persist(ctx, r); err != nil {
		return err
	}
	p := r.Phase(name)
	o.notify(ctx, r, name, p.Status, p.Error)
	rep.Report(ctx, r)
	return nil
}

// abort fails whichever phase is in progress. A test cut short is kept as
// a failed result.
func (o *Orchestrator) abort(r *Review, err error) {
	if c := r.Execute.Current; c != nil {
		tr := *c
		tr.Success, tr.Error = false, err.Error()
		r.Execute.TestResults = append(r.Execute.TestResults, tr)
		r.Execute.Current = nil
	}
	for _, name := range Phases {
		if p := r.Phase(name); p.Status == StatusInProgress {
			_ = p.end(o.now(), err)
		}
	}
}

func (o *Orchestrator) finish(ctx context.Context, r *Review, rep *Reporter) error {
	r.refresh(o.now())
	if err := o.persist(ctx, r); err != nil {
		return err
	}
	var msg string
	if name, ok := r.FailedPhase(); ok {
		msg = r.Phase(name).Error
	}
	if r.Status.Terminal() {
		reviewsTotal.WithLabelValues(string(r.Status)).Inc()
		clog.FromContext(ctx).With("status", string(r.Status)).
			With("passed", r.PassedTests).
			With("total", r.TotalTests).
			Info("Review finished")
	}
	o.notify(ctx, r, "", r.Status, msg)
	rep.Report(ctx, r)
	return nil
}

// persist saves r even when ctx has been cancelled, so an aborted review
// still records how far it got.
func (o *Orchestrator) persist(ctx context.Context, r *Review) error {
	if err := o.store.Save(context.WithoutCancel(ctx), r); err != nil {
		return fmt.Errorf("persisting review %s: %w", r.ID, err)
	}
	return nil
}

// checkpoint saves mid-phase progress. Failures are only logged; the next
// transition is what must be durable.
func (o *Orchestrator) checkpoint(ctx context.Context, r *Review) {
	if err := o.persist(ctx, r); err != nil {
		clog.FromContext(ctx).Warn("Failed to checkpoint review", "error", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, r *Review, phase PhaseName, status Status, msg string) {
	if o.notifier == nil {
		return
	}
	ev := Event{
		ReviewID:  r.ID,
		Repo:      r.Repo.String(),
		PRNumber:  r.PRNumber,
		CommitSHA: r.CommitSHA,
		Phase:     phase,
		Status:    status,
		Error:     msg,
		Time:      o.now(),
	}
	if err := o.notifier.Notify(ctx, ev); err != nil {
		clog.FromContext(ctx).Warn("Failed to publish review event", "error", err)
	}
}

func executionContext(r *Review, phase PhaseName, test int) agenttrace.ExecutionContext {
	return agenttrace.ExecutionContext{
		ReviewID:   r.ID,
		Repository: r.Repo.String(),
		PRNumber:   r.PRNumber,
		CommitSHA:  r.CommitSHA,
		Phase:      string(phase),
		TestNumber: test,
	}
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
