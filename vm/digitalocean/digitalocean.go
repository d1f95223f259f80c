/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package digitalocean implements vm.Cloud on DigitalOcean droplets.
package digitalocean

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/digitalocean/godo"
	"golang.org/x/oauth2"

	"chainguard.dev/vibepr/vm"
)

// Config selects where and what to create.
type Config struct {
	Region string
	Size   string
	Image  string
	// SSHKeyFingerprints are keys registered with the account to install
	// for root.
	SSHKeyFingerprints []string
}

// DefaultConfig is a 2 vCPU, 2 GB Ubuntu 22.04 droplet in nyc1.
func DefaultConfig() Config {
	return Config{Region: "nyc1", Size: "s-2vcpu-2gb", Image: "ubuntu-22-04-x64"}
}

// Cloud creates droplets.
type Cloud struct {
	client *godo.Client
	cfg    Config
}

var _ vm.Cloud = (*Cloud)(nil)

// New returns a Cloud authenticated with an API token.
func New(ctx context.Context, token string, cfg Config) *Cloud {
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	return &Cloud{client: godo.NewClient(hc), cfg: cfg}
}

// NewWithClient returns a Cloud using an already configured godo client.
func NewWithClient(client *godo.Client, cfg Config) *Cloud {
	return &Cloud{client: client, cfg: cfg}
}

func (c *Cloud) Name() string { return "digitalocean" }

func (c *Cloud) Create(ctx context.Context, spec vm.InstanceSpec) (string, error) {
	req := &godo.DropletCreateRequest{
		Name:       spec.Name,
		Region:     c.cfg.Region,
		Size:       c.cfg.Size,
		Image:      godo.DropletCreateImage{Slug: c.cfg.Image},
		Tags:       spec.Tags,
		UserData:   spec.UserData,
		Monitoring: true,
	}
	for _, fp := range c.cfg.SSHKeyFingerprints {
		req.SSHKeys = append(req.SSHKeys, godo.DropletCreateSSHKey{Fingerprint: fp})
	}

	d, resp, err := c.client.Droplets.Create(ctx, req)
	if err != nil {
		return "", &vm.ProvisionError{Provider: c.Name(), StatusCode: statusCode(resp), Err: err}
	}
	return strconv.Itoa(d.ID), nil
}

func (c *Cloud) Get(ctx context.Context, id string) (vm.Instance, error) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return vm.Instance{}, fmt.Errorf("invalid droplet id %q: %w", id, err)
	}
	d, _, err := c.client.Droplets.Get(ctx, n)
	if err != nil {
		return vm.Instance{}, err
	}
	return instance(d), nil
}

func (c *Cloud) Delete(ctx context.Context, id string) error {
	n, err := strconv.Atoi(id)
	if err != nil {
		return fmt.Errorf("invalid droplet id %q: %w", id, err)
	}
	resp, err := c.client.Droplets.Delete(ctx, n)
	if statusCode(resp) == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Cloud) List(ctx context.Context, tag string) ([]vm.Instance, error) {
	var out []vm.Instance
	opt := &godo.ListOptions{Page: 1, PerPage: 100}
	for {
		droplets, resp, err := c.client.Droplets.ListByTag(ctx, tag, opt)
		if err != nil {
			return nil, err
		}
		for i := range droplets {
			out = append(out, instance(&droplets[i]))
		}
		if resp == nil || resp.Links == nil || resp.Links.IsLastPage() {
			return out, nil
		}
		page, err := resp.Links.CurrentPage()
		if err != nil {
			return nil, fmt.Errorf("paging droplets: %w", err)
		}
		opt.Page = page + 1
	}
}

func instance(d *godo.Droplet) vm.Instance {
	ip, _ := d.PublicIPv4()
	created, _ := time.Parse(time.RFC3339, d.Created)
	return vm.Instance{
		ID:        strconv.Itoa(d.ID),
		Name:      d.Name,
		Status:    d.Status,
		Ready:     d.Status == "active",
		PublicIP:  ip,
		CreatedAt: created,
		Tags:      d.Tags,
	}
}

func statusCode(resp *godo.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}
