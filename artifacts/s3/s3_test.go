/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPut(t *testing.T) {
	var gotPath, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method: got = %s, wanted = PUT", r.Method)
		}
		raw, _ := io.ReadAll(r.Body)
		gotPath, gotType, gotBody = r.URL.Path, r.Header.Get("Content-Type"), string(raw)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store, err := New(context.Background(), Config{
		Bucket:    "shots",
		Endpoint:  srv.URL,
		AccessKey: "AKID",
		SecretKey: "SECRET",
	})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	u, err := store.Put(context.Background(), "reviews/r1/setup/step-001.png", []byte("PNGDATA"), "image/png")
	if err != nil {
		t.Fatalf("Put() = %v", err)
	}
	if gotPath != "/shots/reviews/r1/setup/step-001.png" {
		t.Errorf("path: got = %q, wanted = %q", gotPath, "/shots/reviews/r1/setup/step-001.png")
	}
	if gotType != "image/png" {
		t.Errorf("content type: got = %q, wanted = image/png", gotType)
	}
	if !strings.Contains(gotBody, "PNGDATA") {
		t.Errorf("body: got = %q, wanted it to contain PNGDATA", gotBody)
	}
	if !strings.HasPrefix(u, srv.URL+"/shots/reviews/r1/setup/step-001.png?") || !strings.Contains(u, "X-Amz-Signature=") {
		t.Errorf("url: got = %q, wanted a presigned link to the object", u)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Error("New() without bucket: got = nil, wanted error")
	}
}
