/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package driver runs an instruction-following agent against a VM. Each
// turn the model picks one tool call as a JSON action; the driver executes
// it, records a TimestampedStep and feeds the observation back, until the
// model calls finish or the step budget runs out.
package driver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/vibepr/agents/agenttrace"
	"chainguard.dev/vibepr/agents/executor/retry"
	"chainguard.dev/vibepr/agents/gateway"
	"chainguard.dev/vibepr/agents/metrics"
	"chainguard.dev/vibepr/agents/toolcall"
	"chainguard.dev/vibepr/artifacts"
	"chainguard.dev/vibepr/vm"
)

// DefaultMaxSteps bounds a run when no budget is configured.
const DefaultMaxSteps = 50

// Driver runs agent tasks. It is safe for concurrent use by independent
// reviews.
type Driver struct {
	completer gateway.Completer
	provider  string
	model     string
	maxSteps  int
	retry     retry.Config
	store     artifacts.Store
	metrics   *metrics.GenAI
	maxOutput int
	keepTurns int
	sleep     func(context.Context, time.Duration) error
	now       func() time.Time
}

// Option configures a Driver.
type Option func(*Driver) error

// WithMaxSteps sets the step budget per run.
func WithMaxSteps(n int) Option {
	return func(d *Driver) error {
		if n <= 0 {
			return fmt.Errorf("max steps must be positive, got %d", n)
		}
		d.maxSteps = n
		return nil
	}
}

// WithRetry sets the retry policy for rate-limited or overloaded
// completions.
func WithRetry(cfg retry.Config) Option {
	return func(d *Driver) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("retry config: %w", err)
		}
		d.retry = cfg
		return nil
	}
}

// WithArtifactStore uploads screenshots to store and records their URLs
// on steps. Without a store screenshots are not persisted.
func WithArtifactStore(store artifacts.Store) Option {
	return func(d *Driver) error {
		d.store = store
		return nil
	}
}

// WithMetrics overrides the tool call instruments.
func WithMetrics(m *metrics.GenAI) Option {
	return func(d *Driver) error {
		d.metrics = m
		return nil
	}
}

// New returns a Driver sending completions for model on provider through c.
func New(c gateway.Completer, provider, model string, opts ...Option) (*Driver, error) {
	if c == nil {
		return nil, errors.New("completer is required")
	}
	if provider == "" || model == "" {
		return nil, errors.New("provider and model are required")
	}
	d := &Driver{
		completer: c,
		provider:  provider,
		model:     model,
		maxSteps:  DefaultMaxSteps,
		retry:     retry.DefaultConfig(),
		metrics:   metrics.NewGenAI("chainguard.dev/vibepr/driver"),
		maxOutput: 4000,
		keepTurns: 30,
		sleep:     sleep,
		now:       time.Now,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Run drives task on h. onStep is called synchronously after every step,
// in order, with the step just appended.
//
// The run ends when the agent calls finish, in which case the verdict is
// returned with a nil error. Running out of steps returns a failed Result
// and *AgentExhaustedError. A completion failure that survives the retry
// policy is returned as-is. Steps are preserved in every case.
func (d *Driver) Run(ctx context.Context, task Task, h vm.Handle, onStep func(TimestampedStep)) (res Result, err error) {
	log := clog.FromContext(ctx).With("task", task.Name).With("instance_id", h.ID())
	ctx = clog.WithLogger(ctx, log)

	trace := agenttrace.StartTrace[outcome](ctx, task.Prompt)
	var final outcome
	defer func() {
		trace.Complete(final, err)
	}()

	tools := d.tools(h, task)
	system, err := systemPrompt(task, sortedDefinitions(tools))
	if err != nil {
		return Result{}, fmt.Errorf("building system prompt: %w", err)
	}

	hist := &transcript{keep: d.keepTurns, maxObsv: d.maxOutput}
	record := func(step TimestampedStep) {
		res.Steps = append(res.Steps, step)
		if onStep != nil {
			onStep(step)
		}
	}

	for n := 1; n <= d.maxSteps; n++ {
		if err := ctx.Err(); err != nil {
			res.Error = err.Error()
			return res, err
		}

		prompt, err := userPrompt(task, hist)
		if err != nil {
			return res, fmt.Errorf("building turn prompt: %w", err)
		}
		text, err := retry.Do(ctx, d.retry, "agent_completion", gateway.IsRetryable, func(ctx context.Context) (string, error) {
			return d.completer.Complete(ctx, d.provider, d.model, system, prompt)
		})
		if err != nil {
			res.Error = err.Error()
			return res, fmt.Errorf("agent completion: %w", err)
		}

		act, err := parseAction(text)
		if err != nil {
			log.With("step", n).Warn("Model returned an unusable action", "error", err)
			record(TimestampedStep{Text: "Invalid action: " + err.Error(), Timestamp: d.now()})
			hist.add(n, action{Thought: truncateMiddle(text, 500)}, errorObservation(err))
			continue
		}

		tool, ok := tools[act.Action]
		if !ok {
			record(TimestampedStep{Text: act.Thought, Timestamp: d.now(), Action: act.Action})
			hist.add(n, act, errorObservation(fmt.Errorf("unknown tool %q", act.Action)))
			continue
		}

		call := toolcall.ToolCall{ID: strconv.Itoa(n), Name: act.Action, Args: act.Input}
		recorded := tool.Def.RecordedArgs(call.Args)
		tc := trace.StartToolCall(call.ID, call.Name, recordedParams(recorded))
		obs := tool.Handler(ctx, call, trace, &final)
		tc.Complete(obsSummary(obs), obsError(obs))
		d.metrics.RecordToolCall(ctx, d.model, call.Name)

		step := TimestampedStep{
			Text:      act.Thought,
			Timestamp: d.now(),
			ToolCalls: []ToolCallRecord{{Name: call.Name, Args: recorded}},
			Action:    act.Action,
		}
		if shot, ok := obs[screenshotKey].(string); ok {
			delete(obs, screenshotKey)
			obs["screenshot_taken"] = true
			step.Screenshot = d.archive(ctx, shot, n)
		}
		record(step)

		if final.done {
			res.Success, res.Error, res.Notes = final.success, final.errMsg, final.notes
			log.With("steps", n).With("success", res.Success).Info("Agent finished")
			return res, nil
		}
		hist.add(n, redactAction(tool.Def, act), obs)
	}

	res.Success = false
	res.Error = fmt.Sprintf("Agent timed out after %d steps without reporting a result", d.maxSteps)
	return res, &AgentExhaustedError{MaxSteps: d.maxSteps, Steps: res.Steps}
}

// archive uploads a base64 PNG and returns its URL, or "" when there is no
// store or the upload fails.
func (d *Driver) archive(ctx context.Context, b64 string, step int) string {
	if d.store == nil || b64 == "" {
		return ""
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		clog.FromContext(ctx).Warn("Discarding undecodable screenshot", "error", err)
		return ""
	}
	ec := agenttrace.GetExecutionContext(ctx)
	key := artifacts.ScreenshotKey(ec.ReviewID, ec.Phase, ec.TestNumber, step)
	u, err := d.store.Put(ctx, key, data, "image/png")
	if err != nil {
		clog.FromContext(ctx).With("key", key).Warn("Failed to archive screenshot", "error", err)
		return ""
	}
	return u
}

func redactAction(def toolcall.Definition, a action) action {
	if def.Sensitive {
		if path, ok := a.Input["path"]; ok {
			a.Input = map[string]any{"path": path, "command": a.Input["command"]}
		}
	}
	return a
}

func recordedParams(recorded any) map[string]any {
	if m, ok := recorded.(map[string]any); ok {
		return m
	}
	return map[string]any{"args": recorded}
}

func errorObservation(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}

func obsError(obs map[string]any) error {
	if msg, ok := obs["error"].(string); ok {
		return errors.New(msg)
	}
	return nil
}

func obsSummary(obs map[string]any) any {
	if r, ok := obs["result"]; ok {
		return r
	}
	if code, ok := obs["exit_code"]; ok {
		return map[string]any{"exit_code": code}
	}
	return nil
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
