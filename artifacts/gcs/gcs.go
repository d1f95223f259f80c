/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package gcs stores artifacts in a Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"net/url"

	"cloud.google.com/go/storage"

	"chainguard.dev/vibepr/artifacts"
)

// Store writes objects to one bucket.
type Store struct {
	bucket *storage.BucketHandle
	name   string
}

var _ artifacts.Store = (*Store)(nil)

// New returns a Store for bucket using client.
func New(client *storage.Client, bucket string) *Store {
	return &Store{bucket: client.Bucket(bucket), name: bucket}
}

// Put uploads data and returns its https://storage.googleapis.com URL.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("writing gs://%s/%s: %w", s.name, key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing gs://%s/%s: %w", s.name, key, err)
	}
	return (&url.URL{Scheme: "https", Host: "storage.googleapis.com", Path: "/" + s.name + "/" + key}).String(), nil
}
