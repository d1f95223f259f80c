/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package params_test

import (
	"errors"
	"testing"

	"chainguard.dev/vibepr/agents/toolcall/params"
	"github.com/google/go-cmp/cmp"
)

func TestExtract(t *testing.T) {
	args := map[string]any{
		"command":    "ls -la",
		"seconds":    float64(3),
		"coordinate": []any{float64(10), float64(20)},
		"keys":       []any{"ctrl", "l"},
		"mixed":      []any{"a", float64(1)},
		"null":       nil,
	}

	t.Run("string", func(t *testing.T) {
		got, err := params.Extract[string](args, "command")
		if err != nil || got != "ls -la" {
			t.Errorf("Extract(command): got = (%q, %v), wanted = (%q, nil)", got, err, "ls -la")
		}
	})

	t.Run("int from float64", func(t *testing.T) {
		got, err := params.Extract[int](args, "seconds")
		if err != nil || got != 3 {
			t.Errorf("Extract(seconds): got = (%d, %v), wanted = (3, nil)", got, err)
		}
	})

	t.Run("int slice", func(t *testing.T) {
		got, err := params.Extract[[]int](args, "coordinate")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]int{10, 20}, got); diff != "" {
			t.Errorf("Extract(coordinate) (-want +got):\n%s", diff)
		}
	})

	t.Run("string slice", func(t *testing.T) {
		got, err := params.Extract[[]string](args, "keys")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"ctrl", "l"}, got); diff != "" {
			t.Errorf("Extract(keys) (-want +got):\n%s", diff)
		}
	})

	t.Run("mixed slice rejected", func(t *testing.T) {
		if _, err := params.Extract[[]string](args, "mixed"); err == nil {
			t.Error("Extract(mixed): got = nil, wanted error")
		}
	})

	t.Run("missing and null", func(t *testing.T) {
		for _, name := range []string{"absent", "null"} {
			if _, err := params.Extract[string](args, name); err == nil {
				t.Errorf("Extract(%s): got = nil, wanted error", name)
			}
		}
	})

	t.Run("wrong type", func(t *testing.T) {
		if _, err := params.Extract[bool](args, "command"); err == nil {
			t.Error("Extract[bool](command): got = nil, wanted error")
		}
	})
}

func TestExtractOptional(t *testing.T) {
	args := map[string]any{"seconds": float64(7)}

	got, err := params.ExtractOptional(args, "seconds", 1)
	if err != nil || got != 7 {
		t.Errorf("present: got = (%d, %v), wanted = (7, nil)", got, err)
	}
	got, err = params.ExtractOptional(args, "other", 1)
	if err != nil || got != 1 {
		t.Errorf("absent: got = (%d, %v), wanted = (1, nil)", got, err)
	}
	if _, err := params.ExtractOptional(args, "seconds", "x"); err == nil {
		t.Error("wrong type: got = nil, wanted error")
	}
}

func TestError(t *testing.T) {
	if diff := cmp.Diff(map[string]any{"error": "bad 3"}, params.Error("bad %d", 3)); diff != "" {
		t.Errorf("Error() (-want +got):\n%s", diff)
	}
	got := params.ErrorWithContext(errors.New("exit 1"), map[string]any{"stderr": "oops"})
	if diff := cmp.Diff(map[string]any{"error": "exit 1", "stderr": "oops"}, got); diff != "" {
		t.Errorf("ErrorWithContext() (-want +got):\n%s", diff)
	}
}
