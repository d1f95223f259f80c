/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package artifacts stores agent screenshots outside of progress comments.
package artifacts

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Store persists a blob and returns a URL a reviewer can open.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// ScreenshotKey returns the object key for one agent screenshot.
func ScreenshotKey(reviewID, phase string, testNumber, step int) string {
	scope := phase
	if testNumber > 0 {
		scope = fmt.Sprintf("%s-%d", phase, testNumber)
	}
	if reviewID == "" {
		reviewID = "unscoped"
	}
	return path.Join("reviews", clean(reviewID), clean(scope), fmt.Sprintf("step-%03d.png", step))
}

func clean(s string) string {
	return strings.NewReplacer("/", "_", "..", "_").Replace(s)
}
