/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package digitalocean

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/digitalocean/godo"
	"github.com/google/go-cmp/cmp"

	"chainguard.dev/vibepr/vm"
)

const dropletJSON = `{"droplet":{"id":123,"name":"vibepr-test-1","status":"active",
	"created_at":"2026-03-01T10:00:00Z","tags":["vibepr","testing"],
	"networks":{"v4":[{"ip_address":"10.0.0.2","type":"private"},{"ip_address":"203.0.113.5","type":"public"}]}}}`

func newTestCloud(t *testing.T, h http.Handler) *Cloud {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client, err := godo.New(srv.Client(), godo.SetBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("godo.New() = %v", err)
	}
	return NewWithClient(client, DefaultConfig())
}

func TestCreate(t *testing.T) {
	var got godo.DropletCreateRequest
	c := newTestCloud(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/droplets" {
			t.Errorf("request: got = %s %s, wanted = POST /v2/droplets", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"droplet":{"id":123,"status":"new"}}`)
	}))
	c.cfg.SSHKeyFingerprints = []string{"aa:bb"}

	id, err := c.Create(context.Background(), vm.InstanceSpec{
		Name:     "vibepr-test-1",
		Tags:     []string{"vibepr", "testing"},
		UserData: "#!/bin/bash",
	})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if id != "123" {
		t.Errorf("id: got = %q, wanted = 123", id)
	}
	if got.Region != "nyc1" || got.Size != "s-2vcpu-2gb" || got.Image.Slug != "ubuntu-22-04-x64" {
		t.Errorf("placement: got = %s/%s/%s, wanted = nyc1/s-2vcpu-2gb/ubuntu-22-04-x64", got.Region, got.Size, got.Image.Slug)
	}
	if diff := cmp.Diff([]string{"vibepr", "testing"}, got.Tags); diff != "" {
		t.Errorf("tags (-want +got): %s", diff)
	}
	if len(got.SSHKeys) != 1 || got.SSHKeys[0].Fingerprint != "aa:bb" {
		t.Errorf("ssh keys: got = %+v, wanted fingerprint aa:bb", got.SSHKeys)
	}
}

func TestCreateRejected(t *testing.T) {
	c := newTestCloud(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"id":"unprocessable_entity","message":"droplet limit reached"}`)
	}))

	_, err := c.Create(context.Background(), vm.InstanceSpec{Name: "x"})
	var pe *vm.ProvisionError
	if !errors.As(err, &pe) {
		t.Fatalf("error: got = %v, wanted *vm.ProvisionError", err)
	}
	if pe.StatusCode != http.StatusUnprocessableEntity || pe.Provider != "digitalocean" {
		t.Errorf("provision error: got = (%s, %d), wanted = (digitalocean, 422)", pe.Provider, pe.StatusCode)
	}
}

func TestGet(t *testing.T) {
	c := newTestCloud(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/droplets/123" {
			t.Errorf("path: got = %s, wanted = /v2/droplets/123", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, dropletJSON)
	}))

	inst, err := c.Get(context.Background(), "123")
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if !inst.Ready || inst.PublicIP != "203.0.113.5" || inst.CreatedAt.IsZero() {
		t.Errorf("instance: got = %+v, wanted ready with public ip 203.0.113.5", inst)
	}
	if _, err := c.Get(context.Background(), "abc"); err == nil {
		t.Error("Get(abc): got = nil, wanted error")
	}
}

func TestDeleteTreatsNotFoundAsDone(t *testing.T) {
	c := newTestCloud(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method: got = %s, wanted = DELETE", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"id":"not_found","message":"gone"}`)
	}))
	if err := c.Delete(context.Background(), "123"); err != nil {
		t.Errorf("Delete() = %v, wanted nil for a missing droplet", err)
	}
}

func TestListByTag(t *testing.T) {
	c := newTestCloud(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("tag_name"); got != "vibepr" {
			t.Errorf("tag_name: got = %q, wanted = vibepr", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"droplets":[{"id":1,"status":"active","created_at":"2026-03-01T10:00:00Z"},{"id":2,"status":"new"}],"links":{},"meta":{"total":2}}`)
	}))

	got, err := c.List(context.Background(), "vibepr")
	if err != nil {
		t.Fatalf("List() = %v", err)
	}
	if len(got) != 2 || got[0].ID != "1" || got[1].Ready {
		t.Errorf("List(): got = %+v, wanted droplets 1 (active) and 2 (new)", got)
	}
}
