/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package natsbus publishes review events to NATS JetStream.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"chainguard.dev/vibepr/reconcilers/reviewreconciler"
)

const (
	// StreamName is the JetStream stream that retains review events.
	StreamName = "VIBEPR_REVIEWS"
	// SubjectPrefix prefixes every event subject.
	SubjectPrefix = "vibepr.review"
)

var _ reviewreconciler.Notifier = (*Bus)(nil)

type publisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Bus wraps a JetStream connection.
type Bus struct {
	conn *nats.Conn
	js   publisher
}

// New connects to url and makes sure the review stream exists.
func New(url string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("opening jetstream: %w", err)
	}
	if err := ensureStream(js); err != nil {
		nc.Close()
		return nil, err
	}
	return &Bus{conn: nc, js: js}, nil
}

func ensureStream(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("looking up stream %s: %w", StreamName, err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectPrefix + ".>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("creating stream %s: %w", StreamName, err)
	}
	return nil
}

// Close drains the connection.
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Notify publishes ev as JSON on Subject(ev).
func (b *Bus) Notify(ctx context.Context, ev reviewreconciler.Event) error {
	if b == nil {
		return errors.New("nil bus")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := b.js.Publish(Subject(ev), data, nats.Context(ctx), nats.MsgId(msgID(ev))); err != nil {
		return fmt.Errorf("publishing %s: %w", Subject(ev), err)
	}
	return nil
}

// Subject is vibepr.review.<phase>.<status>, with "review" standing in for
// the phase of review-level events.
func Subject(ev reviewreconciler.Event) string {
	phase := string(ev.Phase)
	if phase == "" {
		phase = "review"
	}
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, phase, ev.Status)
}

// msgID lets JetStream drop duplicates when a transition is announced
// twice.
func msgID(ev reviewreconciler.Event) string {
	return fmt.Sprintf("%s.%s", ev.ReviewID, Subject(ev))
}
