// Package telemetry wires the host agent's structured logging and
// Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveMatches tracks the number of matches currently held by the
	// in-memory registry.
	ActiveMatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dshostd_active_matches",
		Help: "Number of matches currently tracked by this host",
	})

	// FreePorts tracks the number of ports remaining in the allocation pool.
	FreePorts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dshostd_free_ports",
		Help: "Number of ports currently unallocated in the pool",
	})

	// SpawnTotal counts process-spawn attempts by outcome.
	SpawnTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dshostd_spawn_total",
		Help: "Total dedicated server spawn attempts",
	}, []string{"outcome"})

	// HeartbeatTimeoutsTotal counts matches killed for going silent.
	HeartbeatTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dshostd_heartbeat_timeouts_total",
		Help: "Total matches killed due to heartbeat timeout",
	})

	// UptimeKillsTotal counts matches killed for exceeding their uptime budget.
	UptimeKillsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dshostd_uptime_kills_total",
		Help: "Total matches killed for exceeding their max uptime",
	})

	// PublishRetriesTotal counts registry-publish retry attempts.
	PublishRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dshostd_publish_retries_total",
		Help: "Total registry publish retries due to transient failures",
	})

	// HTTPRequestsTotal counts HTTP requests by method/path/status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dshostd_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration records HTTP request latency by method/path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dshostd_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)
