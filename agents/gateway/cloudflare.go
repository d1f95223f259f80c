/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gateway

import "fmt"

// CloudflareBaseURL is the root of the Cloudflare AI gateway.
const CloudflareBaseURL = "https://gateway.ai.cloudflare.com/v1"

// Cloudflare describes one Cloudflare AI gateway.
type Cloudflare struct {
	AccountID string
	Gateway   string
	// APIToken, when set, is sent as cf-aig-authorization for
	// authenticated gateways.
	APIToken string
}

// URL returns the gateway endpoint for provider, for example
// https://gateway.ai.cloudflare.com/v1/<account>/<gateway>/groq.
func (c Cloudflare) URL(provider string) string {
	return fmt.Sprintf("%s/%s/%s/%s", CloudflareBaseURL, c.AccountID, c.Gateway, provider)
}

// Headers returns the extra headers every request through the gateway needs.
func (c Cloudflare) Headers() map[string]string {
	if c.APIToken == "" {
		return nil
	}
	return map[string]string{"cf-aig-authorization": "Bearer " + c.APIToken}
}

// Configured reports whether an account and gateway are set.
func (c Cloudflare) Configured() bool {
	return c.AccountID != "" && c.Gateway != ""
}
