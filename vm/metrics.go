/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package vm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	provisionSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vibepr_vm_provision_seconds",
			Help:    "Time from create request to a connected instance.",
			Buckets: []float64{5, 15, 30, 60, 90, 120, 180, 300},
		},
		[]string{"provider", "outcome"},
	)
	reapedInstances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibepr_vm_reaped_total",
			Help: "Orphaned instances deleted by the reaper.",
		},
		[]string{"provider"},
	)
)
