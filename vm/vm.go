/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package vm provisions disposable desktop instances and exposes them as
// Handles for running commands, writing files and injecting environment.
//
// Cloud-specific create, get and delete calls live behind the Cloud
// interface (see vm/digitalocean and vm/gce). Manager owns the provider
// independent parts: the bounded readiness poll, connecting to the
// instance and exactly-once teardown.
package vm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CommandResult is the outcome of one shell command. A non-zero exit code
// is reported here and not as an error.
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Handle is exclusive access to one running instance.
type Handle interface {
	ID() string
	// StreamURL is where a human can watch the desktop.
	StreamURL() string
	Bash(ctx context.Context, cmd string) (CommandResult, error)
	// SetEnv merges vars into the environment of subsequent commands.
	SetEnv(ctx context.Context, vars map[string]string) error
	// WriteFile writes content to path, creating parent directories. A
	// leading "~/" is relative to the login user's home.
	WriteFile(ctx context.Context, path, content string) error
	// Stop releases the instance. Only the first call does anything.
	Stop(ctx context.Context) error
}

// Provisioner creates instances.
type Provisioner interface {
	Provision(ctx context.Context, req Request) (Handle, error)
	// Release deletes an instance by id when no Handle to it survives, for
	// example after a restart. An instance that is already gone is not an
	// error.
	Release(ctx context.Context, id string) error
}

// Request describes the instance a review needs.
type Request struct {
	// ReviewID is recorded as a provider tag so orphans can be traced back.
	ReviewID string
}

// Instance is a provider's view of one instance.
type Instance struct {
	ID        string
	Name      string
	Status    string
	Ready     bool
	PublicIP  string
	CreatedAt time.Time
	Tags      []string
}

// InstanceSpec is what Manager asks a Cloud to create.
type InstanceSpec struct {
	Name     string
	Tags     []string
	UserData string
}

// Cloud is the provider-specific half of provisioning.
type Cloud interface {
	Name() string
	// Create submits the instance and returns its id. A rejection by the
	// provider is reported as *ProvisionError.
	Create(ctx context.Context, spec InstanceSpec) (string, error)
	Get(ctx context.Context, id string) (Instance, error)
	Delete(ctx context.Context, id string) error
	// List returns the instances carrying tag.
	List(ctx context.Context, tag string) ([]Instance, error)
}

// ProvisionError means the provider rejected the create request.
type ProvisionError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProvisionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s rejected instance creation (%d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s rejected instance creation: %v", e.Provider, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// ProvisionTimeoutError means the instance never became ready within the
// poll budget. It is not retried at this layer.
type ProvisionTimeoutError struct {
	InstanceID string
	Attempts   int
	Interval   time.Duration
	LastStatus string
}

func (e *ProvisionTimeoutError) Error() string {
	return fmt.Sprintf("instance %s not ready after %d attempts every %s (last status %q)",
		e.InstanceID, e.Attempts, e.Interval, e.LastStatus)
}

// IsProvisionFailure reports whether err is a ProvisionError or a
// ProvisionTimeoutError.
func IsProvisionFailure(err error) bool {
	var pe *ProvisionError
	var te *ProvisionTimeoutError
	return errors.As(err, &pe) || errors.As(err, &te)
}
