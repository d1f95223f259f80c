/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package driver

import (
	"chainguard.dev/vibepr/agents/result"
	"chainguard.dev/vibepr/agents/schema"
)

// Verdict is the payload an agent submits through the finish tool.
type Verdict interface {
	result.Validator
	Outcome() (success bool, errMsg, notes string)
}

// SetupVerdict concludes environment setup.
type SetupVerdict struct {
	SetupSuccess *bool  `json:"setup_success" jsonschema:"required,description=Whether the application is installed running and open in the browser"`
	SetupError   string `json:"setup_error,omitempty" jsonschema:"description=What went wrong when setup_success is false"`
}

func (v SetupVerdict) Validate() []string {
	if v.SetupSuccess == nil {
		return []string{"setup_success is required"}
	}
	return nil
}

func (v SetupVerdict) Outcome() (bool, string, string) {
	return *v.SetupSuccess, v.SetupError, ""
}

// TestVerdict concludes one test case.
type TestVerdict struct {
	TestSuccess *bool  `json:"test_success" jsonschema:"required,description=Whether the observed behavior matched the expected result"`
	TestError   string `json:"test_error,omitempty" jsonschema:"description=Which step failed and what was observed instead"`
	Notes       string `json:"notes,omitempty" jsonschema:"description=Observations worth reporting even when the test passed"`
}

func (v TestVerdict) Validate() []string {
	if v.TestSuccess == nil {
		return []string{"test_success is required"}
	}
	return nil
}

func (v TestVerdict) Outcome() (bool, string, string) {
	return *v.TestSuccess, v.TestError, v.Notes
}

// Task is one goal for the agent: instructions plus the verdict shape that
// ends it.
type Task struct {
	// Name labels the task in logs and traces.
	Name   string
	System string
	Prompt string

	resultSchema string
	decode       func(payload string) (success bool, errMsg, notes string, err error)
}

// NewTask returns a Task concluded by a V verdict.
func NewTask[V Verdict](name, system, prompt string) Task {
	return Task{
		Name:         name,
		System:       system,
		Prompt:       prompt,
		resultSchema: schema.MustDescribe[V](),
		decode: func(payload string) (bool, string, string, error) {
			v, err := result.Decode[V](name+" result", payload)
			if err != nil {
				return false, "", "", err
			}
			ok, msg, notes := v.Outcome()
			return ok, msg, notes, nil
		},
	}
}
