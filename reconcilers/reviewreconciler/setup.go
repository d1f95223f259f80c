/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reviewreconciler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/chainguard-dev/clog"

	"chainguard.dev/vibepr/agents/driver"
	"chainguard.dev/vibepr/agents/toolcall"
	"chainguard.dev/vibepr/vm"
)

// agentFailure carries the outcome an agent reported, or the message it was
// given when it ran out of steps.
type agentFailure struct {
	msg string
	err error
}

func (e *agentFailure) Error() string { return e.msg }
func (e *agentFailure) Unwrap() error { return e.err }

// setup provisions the VM, clones the pull request and prepares the
// application. The handle is stored in *hp as soon as provisioning returns
// so the caller can stop it on every exit path, panics included.
func (o *Orchestrator) setup(ctx context.Context, r *Review, rep *Reporter, hp *vm.Handle) error {
	log := clog.FromContext(ctx)

	h, err := o.provisioner.Provision(ctx, vm.Request{ReviewID: r.ID})
	if err != nil {
		return fmt.Errorf("provisioning VM: %w", err)
	}
	*hp = h
	r.InstanceID, r.StreamURL = h.ID(), h.StreamURL()
	log.With("instance_id", r.InstanceID).Info("VM ready")
	o.checkpoint(ctx, r)
	rep.Report(ctx, r)

	env := map[string]string{}
	vars, err := o.host.Variables(ctx, r.Repo)
	if err != nil {
		log.Warn("Failed to fetch repository variables", "error", err)
		r.Setup.Warning = "⚠️ Error fetching GitHub variables, continuing setup:\n\n" + codeBlock(err.Error())
		rep.Report(ctx, r)
	}
	for _, v := range vars {
		env[v.Name] = v.Value
	}
	if len(env) > 0 {
		if err := h.SetEnv(ctx, env); err != nil {
			return fmt.Errorf("exporting repository variables: %w", err)
		}
	}

	if err := o.clone(ctx, r, h); err != nil {
		return err
	}
	o.recordSetupStep(r, driver.TimestampedStep{
		Text:   fmt.Sprintf("Checked out %s#%d (%s) into %s", r.Repo, r.PRNumber, r.ShortSHA(), r.RepoPath()),
		Action: driver.ToolBash,
	})
	rep.Progress(ctx, r)

	if r.Generate.SetupConfigContent != "" {
		cfg, err := ParseSetupConfig(r.Generate.SetupConfigContent)
		if err != nil {
			return err
		}
		log.With("steps", len(cfg.Steps)).Info("Running declarative setup")
		return o.runSetupConfig(ctx, r, rep, h, cfg)
	}

	log.Info("Running autonomous setup")
	system, user, err := buildAutoSetup(r, env)
	if err != nil {
		return fmt.Errorf("building setup prompt: %w", err)
	}
	return o.runSetupAgent(ctx, r, rep, h, driver.NewTask[driver.SetupVerdict]("setup", system, user))
}

// clone checks out the reviewed commit on the VM. The pull request ref is
// fetched so commits that live in forks are reachable. The commit itself is
// fetched when a later push moved the ref past it. The remote is reset to
// the public URL so no credential stays in the checkout.
func (o *Orchestrator) clone(ctx context.Context, r *Review, h vm.Handle) error {
	src, err := o.cloneURL(ctx, r.Repo)
	if err != nil {
		return fmt.Errorf("building clone URL for %s: %w", r.Repo, err)
	}
	public, _ := publicCloneURL(ctx, r.Repo)
	redact := credentialRedactor(src)

	dir := vm.QuotePath(r.RepoPath())
	checkout := "git checkout --quiet --detach FETCH_HEAD"
	if r.CommitSHA != "" {
		sha := shellescape.Quote(r.CommitSHA)
		checkout = fmt.Sprintf("{ git cat-file -e %s 2>/dev/null || git fetch --quiet origin %s; } && git checkout --quiet --detach %s",
			shellescape.Quote(r.CommitSHA+"^{commit}"), sha, sha)
	}
	cmd := fmt.Sprintf("git clone --quiet %s %s && cd %s && git fetch --quiet origin %s && %s && git remote set-url origin %s",
		shellescape.Quote(src), dir, dir,
		shellescape.Quote(fmt.Sprintf("pull/%d/head", r.PRNumber)),
		checkout, shellescape.Quote(public))
	res, err := h.Bash(ctx, cmd)
	if err != nil {
		if msg := err.Error(); redact.Replace(msg) != msg {
			return fmt.Errorf("cloning %s: %s", r.Repo, redact.Replace(msg))
		}
		return fmt.Errorf("cloning %s: %w", r.Repo, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("cloning %s exited with code %d: %s", r.Repo, res.ExitCode, truncate(strings.TrimSpace(redact.Replace(res.Stderr)), 2000))
	}
	return nil
}

// credentialRedactor masks the password, or a bare token username, of a
// URL wherever it appears.
func credentialRedactor(raw string) *strings.Replacer {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return strings.NewReplacer()
	}
	secret, ok := u.User.Password()
	if !ok {
		secret = u.User.Username()
	}
	if secret == "" {
		return strings.NewReplacer()
	}
	return strings.NewReplacer(secret, "xxxxx")
}

// runSetupConfig executes the declarative steps literally and in order.
// The first failing step fails setup.
func (o *Orchestrator) runSetupConfig(ctx context.Context, r *Review, rep *Reporter, h vm.Handle, cfg *SetupConfig) error {
	for i, step := range cfg.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := i + 1
		switch step.Type {
		case StepBash:
			o.recordSetupStep(r, driver.TimestampedStep{
				Text:      fmt.Sprintf("Step %d: running command", n),
				ToolCalls: []driver.ToolCallRecord{{Name: driver.ToolBash, Args: map[string]any{"command": step.Command}}},
				Action:    driver.ToolBash,
			})
			res, err := h.Bash(ctx, "cd "+vm.QuotePath(r.RepoPath())+" && "+step.Command)
			if err != nil {
				return fmt.Errorf("step %d (bash): %w", n, err)
			}
			if res.ExitCode != 0 {
				return fmt.Errorf("step %d (bash) exited with code %d: %s", n, res.ExitCode, truncate(strings.TrimSpace(res.Stderr), 2000))
			}

		case StepCreateEnv:
			o.recordSetupStep(r, driver.TimestampedStep{
				Text:      fmt.Sprintf("Step %d: writing .env", n),
				ToolCalls: []driver.ToolCallRecord{{Name: string(StepCreateEnv), Args: toolcall.Redacted}},
				Action:    string(StepCreateEnv),
			})
			if err := h.WriteFile(ctx, r.RepoPath()+"/.env", step.Text); err != nil {
				return fmt.Errorf("step %d (create-env): %w", n, err)
			}

		case StepInstruction:
			o.recordSetupStep(r, driver.TimestampedStep{
				Text:   fmt.Sprintf("Step %d: %s", n, step.Text),
				Action: string(StepInstruction),
			})
			system, user, err := buildInstruction(r, step.Text)
			if err != nil {
				return fmt.Errorf("step %d (instruction): %w", n, err)
			}
			task := driver.NewTask[driver.SetupVerdict](fmt.Sprintf("setup step %d", n), system, user)
			if err := o.runSetupAgent(ctx, r, rep, h, task); err != nil {
				return fmt.Errorf("step %d (instruction): %w", n, err)
			}

		case StepWait:
			o.recordSetupStep(r, driver.TimestampedStep{
				Text:      fmt.Sprintf("Step %d: waiting %gs", n, step.Seconds),
				ToolCalls: []driver.ToolCallRecord{{Name: driver.ToolWait, Args: map[string]any{"seconds": step.Seconds}}},
				Action:    driver.ToolWait,
			})
			if err := o.sleep(ctx, time.Duration(step.Seconds*float64(time.Second))); err != nil {
				return err
			}

		default:
			return fmt.Errorf("step %d: unknown type %q", n, step.Type)
		}
		rep.Progress(ctx, r)
	}
	return nil
}

// runSetupAgent runs an agent task whose steps extend the setup log.
func (o *Orchestrator) runSetupAgent(ctx context.Context, r *Review, rep *Reporter, h vm.Handle, task driver.Task) error {
	res, err := o.agent.Run(ctx, task, h, func(s driver.TimestampedStep) {
		r.Setup.Steps = append(r.Setup.Steps, s)
		rep.Progress(ctx, r)
	})
	return agentOutcome(res, err, "setup agent reported failure without details")
}

func agentOutcome(res driver.Result, err error, fallback string) error {
	switch {
	case err != nil && res.Error != "":
		return &agentFailure{msg: res.Error, err: err}
	case err != nil:
		return err
	case !res.Success && res.Error != "":
		return errors.New(res.Error)
	case !res.Success:
		return errors.New(fallback)
	}
	return nil
}

func (o *Orchestrator) recordSetupStep(r *Review, s driver.TimestampedStep) {
	s.Timestamp = o.now()
	r.Setup.Steps = append(r.Setup.Steps, s)
}
