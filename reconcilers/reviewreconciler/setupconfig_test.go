/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reviewreconciler

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"chainguard.dev/vibepr/agents/result"
)

func TestParseSetupConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    *SetupConfig
		wantErr string
	}{{
		name:    "all step types",
		content: declarativeSetup,
		want: &SetupConfig{Steps: []SetupStep{
			{Type: StepBash, Command: "npm ci"},
			{Type: StepCreateEnv, Text: "STRIPE_KEY=sk_test_123"},
			{Type: StepWait, Seconds: 1.5},
			{Type: StepInstruction, Text: "Open http://localhost:3000 in Chromium"},
		}},
	}, {
		name:    "empty file",
		content: "",
		wantErr: "invalid vibePR.yaml: steps must not be empty",
	}, {
		name:    "empty steps",
		content: "steps: []\n",
		wantErr: "invalid vibePR.yaml: steps must not be empty",
	}, {
		name:    "unknown field",
		content: "steps:\n  - type: bash\n    cmd: ls\n",
		wantErr: "field cmd not found",
	}, {
		name:    "malformed",
		content: "steps: [\n",
		wantErr: "invalid vibePR.yaml: yaml:",
	}, {
		name: "incomplete steps",
		content: `steps:
  - type: bash
  - type: create-env
  - type: instruction
    text: "  "
  - type: wait
    seconds: 0
  - type: reboot
`,
		wantErr: `invalid vibePR.yaml: steps[0]: bash requires command; steps[1]: create-env requires text; ` +
			`steps[2]: instruction requires text; steps[3]: wait requires positive seconds; steps[4]: unknown type "reboot"`,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSetupConfig(tt.content)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("ParseSetupConfig() error: got = %v, wanted containing %q", err, tt.wantErr)
				}
				var ve *result.ValidationError
				if !errors.As(err, &ve) {
					t.Errorf("ParseSetupConfig() error type: got = %T, wanted = *result.ValidationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSetupConfig() = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseSetupConfig() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSetupConfigSummaryHidesEnv(t *testing.T) {
	cfg, err := ParseSetupConfig(declarativeSetup)
	if err != nil {
		t.Fatalf("ParseSetupConfig() = %v", err)
	}
	got := cfg.Summary()
	if strings.Contains(got, "sk_test_123") {
		t.Errorf("Summary() leaked .env contents:\n%s", got)
	}
	for _, w := range []string{"command: npm ci", "<.env contents>", "seconds: 1.5"} {
		if !strings.Contains(got, w) {
			t.Errorf("Summary() missing %q in:\n%s", w, got)
		}
	}
	if cfg.Steps[1].Text != "STRIPE_KEY=sk_test_123" {
		t.Errorf("Summary() modified the config: got = %q", cfg.Steps[1].Text)
	}
}
