/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gcs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

func TestPut(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(raw))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"bucket":"shots","name":"reviews/r1/setup/step-001.png"}`)
	}))
	defer srv.Close()

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("storage.NewClient() = %v", err)
	}
	defer client.Close()

	u, err := New(client, "shots").Put(context.Background(), "reviews/r1/setup/step-001.png", []byte("PNGDATA"), "image/png")
	if err != nil {
		t.Fatalf("Put() = %v", err)
	}
	if want := "https://storage.googleapis.com/shots/reviews/r1/setup/step-001.png"; u != want {
		t.Errorf("url: got = %q, wanted = %q", u, want)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(bodies) == 0 || !strings.Contains(bodies[len(bodies)-1], "PNGDATA") {
		t.Errorf("upload body: got = %q, wanted it to contain the object data", bodies)
	}
}
