/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package toolcall defines agent tools once, independent of how a model
// is asked to call them.
package toolcall

import (
	"context"
	"fmt"
	"maps"

	"chainguard.dev/vibepr/agents/agenttrace"
	"chainguard.dev/vibepr/agents/toolcall/params"
)

// Redacted replaces the arguments of sensitive tools wherever calls are
// recorded.
const Redacted = "[REDACTED]"

// ToolCall is one invocation requested by a model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Definition describes a tool's name, purpose and parameters.
type Definition struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Parameters  []Parameter `yaml:"parameters,omitempty"`
	// Sensitive tools may carry credentials in their arguments, which must
	// never be recorded.
	Sensitive bool `yaml:"-"`
}

// Parameter describes a single tool parameter.
type Parameter struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"` // string, integer, boolean, number or array
	Description string `yaml:"description"`
	Required    bool   `yaml:"required,omitempty"`
}

// Tool pairs a definition with its handler. Handlers report problems in the
// returned observation map (under "error") rather than failing the run, and
// set *result when the tool concludes the task.
type Tool[Resp any] struct {
	Def     Definition
	Handler func(ctx context.Context, call ToolCall, trace *agenttrace.Trace[Resp], result *Resp) map[string]any
}

// RecordedArgs returns the arguments as they may be persisted.
func (d Definition) RecordedArgs(args map[string]any) any {
	if d.Sensitive {
		return Redacted
	}
	return maps.Clone(args)
}

// Param extracts a required parameter from the call's arguments. On error
// it records a bad tool call on the trace and returns an error observation.
func Param[T any](call ToolCall, trace interface {
	BadToolCall(string, string, map[string]any, error)
}, name string) (T, map[string]any) {
	v, err := params.Extract[T](call.Args, name)
	if err != nil {
		trace.BadToolCall(call.ID, call.Name, call.Args, fmt.Errorf("missing %s parameter", name))
		return v, params.Error("%s", err)
	}
	return v, nil
}

// OptionalParam extracts an optional parameter, falling back to def.
func OptionalParam[T any](call ToolCall, name string, def T) (T, map[string]any) {
	v, err := params.ExtractOptional[T](call.Args, name, def)
	if err != nil {
		return v, params.Error("%s", err)
	}
	return v, nil
}
