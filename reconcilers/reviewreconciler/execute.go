/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reviewreconciler

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/vibepr/agents/agenttrace"
	"chainguard.dev/vibepr/agents/driver"
	"chainguard.dev/vibepr/vm"
)

// execute runs every generated test in order on the prepared VM. A test
// that errors is recorded as failed and the next one still runs.
func (o *Orchestrator) execute(ctx context.Context, r *Review, rep *Reporter, h vm.Handle) error {
	if h == nil {
		return fmt.Errorf("no VM available for test execution")
	}
	r.Execute.TestResults, r.Execute.Current = nil, nil
	r.TotalTests, r.PassedTests = len(r.Generate.GeneratedTests), 0

	for i, tc := range r.Generate.GeneratedTests {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := i + 1
		log := clog.FromContext(ctx).With("test_number", n).With("test_name", tc.Name)
		tctx := clog.WithLogger(ctx, log)
		tctx = agenttrace.WithExecutionContext(tctx, executionContext(r, PhaseExecute, n))

		r.Execute.Current = &TestResult{TestNumber: n, TestName: tc.Name}
		rep.Report(ctx, r)

		tr := o.runTest(tctx, r, rep, h, tc)
		r.Execute.Current = nil
		r.Execute.TestResults = append(r.Execute.TestResults, tr)
		outcome := "failed"
		if tr.Success {
			r.PassedTests++
			outcome = "passed"
		}
		testsTotal.WithLabelValues(outcome).Inc()
		log.With("success", tr.Success).Info("Test finished")

		o.checkpoint(ctx, r)
		rep.Report(ctx, r)
	}
	return nil
}

func (o *Orchestrator) runTest(ctx context.Context, r *Review, rep *Reporter, h vm.Handle, tc TestCase) TestResult {
	cur := r.Execute.Current
	system, user, err := buildExecuteTest(r, tc)
	if err != nil {
		return TestResult{TestNumber: cur.TestNumber, TestName: cur.TestName, Error: fmt.Sprintf("building test prompt: %v", err)}
	}
	task := driver.NewTask[driver.TestVerdict](fmt.Sprintf("test %d", cur.TestNumber), system, user)
	res, err := o.agent.Run(ctx, task, h, func(s driver.TimestampedStep) {
		cur.Steps = append(cur.Steps, s)
		rep.Progress(ctx, r)
	})

	tr := *cur
	tr.Notes = res.Notes
	if oerr := agentOutcome(res, err, "test reported failure without details"); oerr != nil {
		clog.FromContext(ctx).Warn("Test failed", "error", oerr)
		tr.Error = oerr.Error()
		return tr
	}
	tr.Success = true
	return tr
}
