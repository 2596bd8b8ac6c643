// Package metrics exposes relay counters on the broker's /metrics
// endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RemoteExecuted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dcmod_remote_messages_executed_total",
			Help: "Remote messages dispatched into the session",
		},
	)

	RemoteDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcmod_remote_messages_dropped_total",
			Help: "Remote messages dropped before dispatch",
		},
		[]string{"reason"}, // "duplicate_id", "rate_limited", "empty", "queue_full"
	)

	LocalForwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dcmod_local_messages_forwarded_total",
			Help: "Local chat lines forwarded outward",
		},
	)

	LocalSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcmod_local_messages_suppressed_total",
			Help: "Local chat lines recognized as reflections and dropped",
		},
		[]string{"reason"}, // "echo", "server_only", "relay_tag", "suppressed", "permit"
	)

	RelayPushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcmod_relay_pushes_total",
			Help: "HTTP relay push attempts",
		},
		[]string{"outcome"}, // "ok", "error"
	)

	RelayPollFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dcmod_relay_poll_failures_total",
			Help: "HTTP relay poll cycles that failed and were skipped",
		},
	)
)
