// ABOUTME: Prometheus metric definitions for lisa-backend
// ABOUTME: Counters and gauges covering builds, deployments, and heartbeats

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BuildsTotal counts finished builds by outcome (ready, failed).
	BuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lisa_builds_total",
		Help: "Total number of finished agent builds by outcome.",
	}, []string{"outcome"})

	// BuildDuration observes wall-clock build time in seconds.
	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lisa_build_duration_seconds",
		Help:    "Agent build duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	// DeploymentsTotal counts finished deployments by outcome (success, error).
	DeploymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lisa_deployments_total",
		Help: "Total number of finished agent deployments by outcome.",
	}, []string{"outcome"})

	// HeartbeatsTotal counts accepted heartbeat requests.
	HeartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lisa_heartbeats_total",
		Help: "Total number of accepted agent heartbeats.",
	})

	// HeartbeatsRejected counts heartbeats dropped by the rate limiter.
	HeartbeatsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lisa_heartbeats_rejected_total",
		Help: "Total number of heartbeats rejected by rate limiting.",
	})

	// ActiveAgents tracks agents currently considered active by liveness.
	ActiveAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lisa_active_agents",
		Help: "Number of agents that heartbeated within the active window.",
	})

	// AgentsByStatus tracks the agent population by lifecycle status.
	AgentsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lisa_agents_by_status",
		Help: "Number of agents in each lifecycle status.",
	}, []string{"status"})
)
