/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package driver

import (
	"encoding/json"
	"encoding/xml"
	"slices"
	"strings"

	"chainguard.dev/vibepr/agents/promptbuilder"
	"chainguard.dev/vibepr/agents/result"
	"chainguard.dev/vibepr/agents/toolcall"
)

var protocolPrompt = promptbuilder.MustNewPrompt(`{{instructions}}

You control an Ubuntu machine with an XFCE desktop on display :1 through the tools below. Commands run as the vibepr user, who has passwordless sudo.

{{tools}}

Reply to every message with exactly one JSON object and nothing else:
{"thought": "<what you are about to do and why>", "action": "<tool name>", "input": {<tool arguments>}}

When the task is complete, or cannot be completed, call the finish tool. Its input must match this JSON schema:
{{result_schema}}`)

var turnPrompt = promptbuilder.MustNewPrompt(`{{task}}

Actions taken so far, oldest first:
{{history}}

Respond with your next action as a single JSON object.`)

// action is one model reply.
type action struct {
	Thought string         `json:"thought"`
	Action  string         `json:"action"`
	Input   map[string]any `json:"input"`
}

func (a action) Validate() []string {
	if a.Action == "" {
		return []string{"action is required"}
	}
	return nil
}

func parseAction(text string) (action, error) {
	a, err := result.Decode[action]("agent action", text)
	if err != nil {
		return a, err
	}
	if a.Input == nil {
		a.Input = map[string]any{}
	}
	return a, nil
}

type history struct {
	XMLName xml.Name `xml:"history"`
	Elided  int      `xml:"elided,attr,omitempty"`
	Turns   []turn   `xml:"turn"`
}

type turn struct {
	Step        int    `xml:"step,attr"`
	Action      string `xml:"action"`
	Observation string `xml:"observation"`
}

// transcript is the running record of actions and observations fed back to
// the model on every turn. Only the most recent turns are kept verbatim.
type transcript struct {
	turns   []turn
	keep    int
	maxObsv int
}

func (t *transcript) add(step int, a action, obs map[string]any) {
	act, _ := json.Marshal(a)
	o, _ := json.Marshal(obs)
	t.turns = append(t.turns, turn{
		Step:        step,
		Action:      string(act),
		Observation: truncateMiddle(string(o), t.maxObsv),
	})
}

func (t *transcript) history() history {
	h := history{Turns: t.turns}
	if t.keep > 0 && len(t.turns) > t.keep {
		h.Elided = len(t.turns) - t.keep
		h.Turns = t.turns[h.Elided:]
	}
	return h
}

func systemPrompt(task Task, defs []toolcall.Definition) (string, error) {
	p, err := protocolPrompt.BindText("instructions", "instructions", task.System)
	if err != nil {
		return "", err
	}
	if p, err = p.BindYAML("tools", struct {
		Tools []toolcall.Definition `yaml:"tools"`
	}{defs}); err != nil {
		return "", err
	}
	if p, err = p.BindText("result_schema", "result_schema", task.resultSchema); err != nil {
		return "", err
	}
	return p.Build()
}

func userPrompt(task Task, t *transcript) (string, error) {
	p, err := turnPrompt.BindText("task", "task", task.Prompt)
	if err != nil {
		return "", err
	}
	if p, err = p.BindXML("history", t.history()); err != nil {
		return "", err
	}
	return p.Build()
}

func sortedDefinitions[Resp any](tools map[string]toolcall.Tool[Resp]) []toolcall.Definition {
	defs := make([]toolcall.Definition, 0, len(tools))
	for _, tool := range tools {
		defs = append(defs, tool.Def)
	}
	slices.SortFunc(defs, func(a, b toolcall.Definition) int { return strings.Compare(a.Name, b.Name) })
	return defs
}

// truncateMiddle keeps the head and tail of s within n bytes.
func truncateMiddle(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	const marker = "\n...[truncated]...\n"
	half := (n - len(marker)) / 2
	return s[:half] + marker + s[len(s)-half:]
}
