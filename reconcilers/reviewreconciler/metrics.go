/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reviewreconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reviewsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibepr_reviews_total",
			Help: "Reviews that reached a terminal status.",
		},
		[]string{"status"},
	)
	phaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vibepr_phase_duration_seconds",
			Help:    "Time spent in each review phase.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400, 3600},
		},
		[]string{"phase", "status"},
	)
	testsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibepr_tests_total",
			Help: "Executed UI tests by outcome.",
		},
		[]string{"result"},
	)
)
