/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reviewreconciler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"chainguard.dev/vibepr/agents/result"
)

// SetupConfigPath is the checked-in setup recipe that replaces autonomous
// setup when present.
const SetupConfigPath = "vibePR.yaml"

// SetupStepType is the kind of a declarative setup step.
type SetupStepType string

const (
	StepBash        SetupStepType = "bash"
	StepCreateEnv   SetupStepType = "create-env"
	StepInstruction SetupStepType = "instruction"
	StepWait        SetupStepType = "wait"
)

// SetupStep is one entry of a setup recipe.
type SetupStep struct {
	Type    SetupStepType `yaml:"type" json:"type"`
	Command string        `yaml:"command,omitempty" json:"command,omitempty"`
	Text    string        `yaml:"text,omitempty" json:"text,omitempty"`
	Seconds float64       `yaml:"seconds,omitempty" json:"seconds,omitempty"`
}

// SetupConfig is an ordered setup recipe.
type SetupConfig struct {
	Steps []SetupStep `yaml:"steps" json:"steps"`
}

// ParseSetupConfig decodes and validates a recipe. Unknown fields and
// incomplete steps are reported as a *result.ValidationError.
func ParseSetupConfig(content string) (*SetupConfig, error) {
	dec := yaml.NewDecoder(strings.NewReader(content))
	dec.KnownFields(true)
	var cfg SetupConfig
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &result.ValidationError{Subject: SetupConfigPath, Err: err}
	}
	if problems := cfg.validate(); len(problems) > 0 {
		return nil, &result.ValidationError{Subject: SetupConfigPath, Problems: problems}
	}
	return &cfg, nil
}

func (c *SetupConfig) validate() []string {
	if len(c.Steps) == 0 {
		return []string{"steps must not be empty"}
	}
	var problems []string
	for i, s := range c.Steps {
		switch s.Type {
		case StepBash:
			if strings.TrimSpace(s.Command) == "" {
				problems = append(problems, fmt.Sprintf("steps[%d]: bash requires command", i))
			}
		case StepCreateEnv, StepInstruction:
			if strings.TrimSpace(s.Text) == "" {
				problems = append(problems, fmt.Sprintf("steps[%d]: %s requires text", i, s.Type))
			}
		case StepWait:
			if s.Seconds <= 0 {
				problems = append(problems, fmt.Sprintf("steps[%d]: wait requires positive seconds", i))
			}
		default:
			problems = append(problems, fmt.Sprintf("steps[%d]: unknown type %q", i, s.Type))
		}
	}
	return problems
}

// Summary renders the recipe for prompts, with create-env contents elided
// since they usually hold credentials.
func (c *SetupConfig) Summary() string {
	redacted := SetupConfig{Steps: make([]SetupStep, len(c.Steps))}
	for i, s := range c.Steps {
		if s.Type == StepCreateEnv {
			s.Text = "<.env contents>"
		}
		redacted.Steps[i] = s
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	_ = enc.Encode(redacted)
	return strings.TrimSpace(buf.String())
}
