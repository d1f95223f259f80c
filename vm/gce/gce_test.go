/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gce

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/api/compute/v1"
	"google.golang.org/api/option"

	"chainguard.dev/vibepr/vm"
)

func newTestCloud(t *testing.T, h http.HandlerFunc) *Cloud {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(context.Background(), DefaultConfig("proj", "us-central1-a"),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return c
}

func TestCreate(t *testing.T) {
	var got compute.Instance
	c := newTestCloud(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "projects/proj/zones/us-central1-a/instances") {
			t.Errorf("request: got = %s %s, wanted POST .../instances", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"name":"op-1","status":"RUNNING"}`)
	})

	id, err := c.Create(context.Background(), vm.InstanceSpec{
		Name:     "vibepr-test-1",
		Tags:     []string{"vibepr", "testing", "vibepr-review-ABC"},
		UserData: "#!/bin/bash\necho hi",
	})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if id != "vibepr-test-1" {
		t.Errorf("id: got = %q, wanted = vibepr-test-1", id)
	}
	if got.Labels["vibepr-review-abc"] != "true" || got.Labels["vibepr"] != "true" {
		t.Errorf("labels: got = %v, wanted vibepr and vibepr-review-abc", got.Labels)
	}
	if got.Metadata == nil || len(got.Metadata.Items) != 1 || got.Metadata.Items[0].Key != "startup-script" {
		t.Fatalf("metadata: got = %+v, wanted a startup-script", got.Metadata)
	}
	if *got.Metadata.Items[0].Value != "#!/bin/bash\necho hi" {
		t.Errorf("startup-script: got = %q", *got.Metadata.Items[0].Value)
	}
	if got.MachineType != "zones/us-central1-a/machineTypes/e2-standard-2" {
		t.Errorf("machine type: got = %q", got.MachineType)
	}
}

func TestCreateRejected(t *testing.T) {
	c := newTestCloud(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":403,"message":"quota"}}`)
	})
	_, err := c.Create(context.Background(), vm.InstanceSpec{Name: "x"})
	var pe *vm.ProvisionError
	if !errors.As(err, &pe) || pe.StatusCode != http.StatusForbidden {
		t.Fatalf("error: got = %v, wanted *vm.ProvisionError with 403", err)
	}
}

func TestGet(t *testing.T) {
	c := newTestCloud(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"name":"vibepr-test-1","status":"RUNNING","creationTimestamp":"2026-03-01T10:00:00-07:00",
			"labels":{"vibepr":"true"},
			"networkInterfaces":[{"networkIP":"10.0.0.2","accessConfigs":[{"natIP":"198.51.100.4"}]}]}`)
	})
	inst, err := c.Get(context.Background(), "vibepr-test-1")
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if !inst.Ready || inst.PublicIP != "198.51.100.4" || inst.CreatedAt.IsZero() {
		t.Errorf("instance: got = %+v, wanted running at 198.51.100.4", inst)
	}
}

func TestDeleteNotFound(t *testing.T) {
	c := newTestCloud(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"not found"}}`)
	})
	if err := c.Delete(context.Background(), "gone"); err != nil {
		t.Errorf("Delete() = %v, wanted nil for a missing instance", err)
	}
}

func TestList(t *testing.T) {
	c := newTestCloud(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("filter"); got != "labels.vibepr=true" {
			t.Errorf("filter: got = %q, wanted = labels.vibepr=true", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"items":[{"name":"a","status":"RUNNING"},{"name":"b","status":"STAGING"}]}`)
	})
	got, err := c.List(context.Background(), vm.Tag)
	if err != nil {
		t.Fatalf("List() = %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].Ready {
		t.Errorf("List(): got = %+v, wanted a (running) and b (staging)", got)
	}
}

func TestLabelKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"vibepr", "vibepr"},
		{"vibepr-review-5F0A", "vibepr-review-5f0a"},
		{"a.b c", "a-b-c"},
		{strings.Repeat("x", 70), strings.Repeat("x", 63)},
	}
	for _, tt := range tests {
		if got := labelKey(tt.in); got != tt.want {
			t.Errorf("labelKey(%q): got = %q, wanted = %q", tt.in, got, tt.want)
		}
	}
}
