// Package metrics exposes Prometheus collectors for platform lifecycle operations. They are
// registered with the default registry and served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "platformd"

var (
	// DeployTotal counts deploy operations. result: success | failed
	DeployTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deploy_total",
			Help:      "Total number of platform deploy operations by kind and result.",
		},
		[]string{"kind", "result"},
	)

	// DecommissionTotal counts decommission operations. result: success | failed | local
	DecommissionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decommission_total",
			Help:      "Total number of platform decommission operations by kind and result.",
		},
		[]string{"kind", "result"},
	)

	// PollTotal counts status polls by the resulting state status.
	PollTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_total",
			Help:      "Total number of platform status polls by kind and observed status.",
		},
		[]string{"kind", "status"},
	)

	PollDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of platform status polls in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"kind"},
	)

	// PollSkippedTotal counts scheduler ticks that found the previous poll still running.
	PollSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_skipped_total",
			Help:      "Total number of scheduled polls skipped because one was already in flight.",
		},
		[]string{"kind"},
	)
)
