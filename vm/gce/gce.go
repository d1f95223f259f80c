/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package gce implements vm.Cloud on Compute Engine instances.
package gce

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"chainguard.dev/vibepr/vm"
)

// Config selects where and what to create.
type Config struct {
	Project     string
	Zone        string
	MachineType string
	Image       string
	Network     string
}

// DefaultConfig returns an e2-standard-2 Ubuntu 22.04 instance in zone.
func DefaultConfig(project, zone string) Config {
	return Config{
		Project:     project,
		Zone:        zone,
		MachineType: "e2-standard-2",
		Image:       "projects/ubuntu-os-cloud/global/images/family/ubuntu-2204-lts",
		Network:     "global/networks/default",
	}
}

// Cloud creates Compute Engine instances. Instance names double as ids.
type Cloud struct {
	svc *compute.Service
	cfg Config
}

var _ vm.Cloud = (*Cloud)(nil)

// New returns a Cloud using application default credentials unless opts
// say otherwise.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Cloud, error) {
	if cfg.Project == "" || cfg.Zone == "" {
		return nil, errors.New("project and zone are required")
	}
	svc, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating compute client: %w", err)
	}
	return &Cloud{svc: svc, cfg: cfg}, nil
}

func (c *Cloud) Name() string { return "gce" }

func (c *Cloud) Create(ctx context.Context, spec vm.InstanceSpec) (string, error) {
	script := spec.UserData
	inst := &compute.Instance{
		Name:        spec.Name,
		MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", c.cfg.Zone, c.cfg.MachineType),
		Disks: []*compute.AttachedDisk{{
			Boot:       true,
			AutoDelete: true,
			InitializeParams: &compute.AttachedDiskInitializeParams{
				SourceImage: c.cfg.Image,
				DiskSizeGb:  30,
			},
		}},
		NetworkInterfaces: []*compute.NetworkInterface{{
			Network: c.cfg.Network,
			AccessConfigs: []*compute.AccessConfig{{
				Name: "External NAT",
				Type: "ONE_TO_ONE_NAT",
			}},
		}},
		Labels: labels(spec.Tags),
		// Network tags select the firewall rules opening 22 and 6080.
		Tags: &compute.Tags{Items: []string{vm.Tag}},
		Metadata: &compute.Metadata{Items: []*compute.MetadataItems{{
			Key:   "startup-script",
			Value: &script,
		}}},
	}

	if _, err := c.svc.Instances.Insert(c.cfg.Project, c.cfg.Zone, inst).Context(ctx).Do(); err != nil {
		pe := &vm.ProvisionError{Provider: c.Name(), Err: err}
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			pe.StatusCode = gerr.Code
		}
		return "", pe
	}
	return spec.Name, nil
}

func (c *Cloud) Get(ctx context.Context, id string) (vm.Instance, error) {
	inst, err := c.svc.Instances.Get(c.cfg.Project, c.cfg.Zone, id).Context(ctx).Do()
	if err != nil {
		return vm.Instance{}, err
	}
	return instance(inst), nil
}

func (c *Cloud) Delete(ctx context.Context, id string) error {
	_, err := c.svc.Instances.Delete(c.cfg.Project, c.cfg.Zone, id).Context(ctx).Do()
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Cloud) List(ctx context.Context, tag string) ([]vm.Instance, error) {
	var out []vm.Instance
	err := c.svc.Instances.List(c.cfg.Project, c.cfg.Zone).
		Filter(fmt.Sprintf("labels.%s=true", labelKey(tag))).
		Pages(ctx, func(page *compute.InstanceList) error {
			for _, inst := range page.Items {
				out = append(out, instance(inst))
			}
			return nil
		})
	return out, err
}

func instance(inst *compute.Instance) vm.Instance {
	out := vm.Instance{
		ID:     inst.Name,
		Name:   inst.Name,
		Status: inst.Status,
		Ready:  inst.Status == "RUNNING",
	}
	for _, ni := range inst.NetworkInterfaces {
		for _, ac := range ni.AccessConfigs {
			if ac.NatIP != "" && out.PublicIP == "" {
				out.PublicIP = ac.NatIP
			}
		}
	}
	out.CreatedAt, _ = time.Parse(time.RFC3339, inst.CreationTimestamp)
	for k := range inst.Labels {
		out.Tags = append(out.Tags, k)
	}
	return out
}

// labels turns provider-neutral tags into Compute Engine labels, which must
// be lowercase and at most 63 characters.
func labels(tags []string) map[string]string {
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[labelKey(t)] = "true"
	}
	return out
}

func labelKey(tag string) string {
	k := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, tag)
	if len(k) > 63 {
		k = k[:63]
	}
	return k
}
