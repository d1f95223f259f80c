/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package driver

import (
	"fmt"
	"time"
)

// ToolCallRecord is a tool call as persisted and shown to reviewers. Args
// of sensitive tools hold toolcall.Redacted.
type ToolCallRecord struct {
	Name string `json:"name"`
	Args any    `json:"args"`
}

// TimestampedStep is one entry of an agent's append-only activity log.
type TimestampedStep struct {
	Text       string           `json:"text,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
	ToolCalls  []ToolCallRecord `json:"tool_calls,omitempty"`
	Screenshot string           `json:"screenshot,omitempty"`
	Action     string           `json:"action,omitempty"`
}

// Result is how an agent run ended.
type Result struct {
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	Notes   string            `json:"notes,omitempty"`
	Steps   []TimestampedStep `json:"steps"`
}

// AgentExhaustedError means the step budget ran out before the agent
// reported an outcome. Steps holds everything it did.
type AgentExhaustedError struct {
	MaxSteps int
	Steps    []TimestampedStep
}

func (e *AgentExhaustedError) Error() string {
	return fmt.Sprintf("agent did not report a result within %d steps", e.MaxSteps)
}
