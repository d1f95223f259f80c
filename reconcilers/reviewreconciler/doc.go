/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package reviewreconciler reviews a pull request by generating UI tests for
it, booting a desktop VM and letting an agent execute them.

# Overview

A Review is one record per repository, pull request and commit. It moves
through three phases, strictly in order:

  - generate: summarize the codebase and the change, then ask a model for a
    test plan
  - setup: provision a VM, check out the reviewed commit and start the
    application, either from vibePR.yaml or with an autonomous agent
  - execute: run every generated test with the agent, one at a time

Each phase is pending, in_progress, complete or failed. The review's own
status is derived from its phases. Every transition is persisted before the
next phase starts, so a review interrupted by a restart can be resumed.

# Usage

	orch, err := reviewreconciler.New(host, gateway, vms, agent, store,
		reviewreconciler.WithGenerateModel("anthropic", "claude-sonnet-4-5"),
		reviewreconciler.WithNotifier(bus),
	)
	if err != nil {
		return err
	}

	review, err := orch.RunReview(ctx, codehost.Repo{Owner: "acme", Name: "shop"}, 7)
	if err != nil {
		// The review could not be persisted. It can be resumed by id.
		return err
	}
	fmt.Println(review.Status, review.PassedTests, review.TotalTests)

# Progress Comment

A Reporter keeps a single comment on the pull request and edits it in
place as the review advances. Render builds the body from the review alone
and always fits GitHub's comment size limit: step logs of finished work are
hidden first so the latest state and the results table survive.

# Teardown

A provisioned VM is stopped exactly once before Run returns, whether the
review completed, failed, was cancelled or panicked. Resume releases the
instance recorded by an interrupted run before setting up a fresh one.
*/
package reviewreconciler
