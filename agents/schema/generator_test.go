/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package schema_test

import (
	"encoding/json"
	"strings"
	"testing"

	"chainguard.dev/vibepr/agents/schema"
)

type importantFile struct {
	Path   string `json:"path" jsonschema:"required,description=Repository-relative path"`
	Reason string `json:"reason,omitempty"`
}

type analysis struct {
	Files []importantFile `json:"files" jsonschema:"required,maxItems=10"`
}

func TestReflectType(t *testing.T) {
	s := schema.ReflectType[analysis]()
	if len(s.Required) != 1 || s.Required[0] != "files" {
		t.Fatalf("required: got = %#v, wanted = [files]", s.Required)
	}

	files, ok := s.Properties.Get("files")
	if !ok {
		t.Fatal("missing files property")
	}
	if files.MaxItems == nil || *files.MaxItems != 10 {
		t.Errorf("files.maxItems: got = %v, wanted = 10", files.MaxItems)
	}
	if files.Items == nil {
		t.Fatal("files.items: got = nil, wanted inline item schema")
	}
	path, ok := files.Items.Properties.Get("path")
	if !ok {
		t.Fatal("missing files[].path property")
	}
	if path.Description != "Repository-relative path" {
		t.Errorf("path description: got = %q, wanted = %q", path.Description, "Repository-relative path")
	}
}

func TestDescribe(t *testing.T) {
	out, err := schema.Describe[analysis]()
	if err != nil {
		t.Fatalf("Describe() = %v", err)
	}
	if strings.Contains(out, "$schema") || strings.Contains(out, "$ref") {
		t.Errorf("Describe() contains schema metadata:\n%s", out)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("Describe() is not JSON: %v", err)
	}
	if decoded["type"] != "object" {
		t.Errorf("type: got = %v, wanted = object", decoded["type"])
	}
}
