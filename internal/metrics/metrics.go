// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package metrics defines the Prometheus metrics exported by kernelsup.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the supervisor and API collectors.
type Metrics struct {
	// Supervisor lifecycle
	StartAttempts  *prometheus.CounterVec // result: started, reconnected, failed
	StartDuration  prometheus.Histogram
	ServerExits    prometheus.Counter
	Restarts       *prometheus.CounterVec // result: ok, failed
	Heartbeats     *prometheus.CounterVec // result: ok, refused, error
	ServerUp       prometheus.Gauge
	VersionMatches *prometheus.GaugeVec

	// Sessions
	SessionsActive prometheus.Gauge
	SessionOps     *prometheus.CounterVec // op, result
	Disconnects    *prometheus.CounterVec // reason

	// HTTP API
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	WSConnections   prometheus.Gauge
}

// New registers the collectors with reg. A nil reg uses a private registry,
// which keeps repeated construction in tests from colliding.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		StartAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kernelsup_start_attempts_total",
			Help: "Supervisor server start attempts by result",
		}, []string{"result"}),
		StartDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kernelsup_start_duration_seconds",
			Help:    "Time from start request to a ready supervisor server",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}),
		ServerExits: f.NewCounter(prometheus.CounterOpts{
			Name: "kernelsup_server_exits_total",
			Help: "Unexpected supervisor server exits detected",
		}),
		Restarts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kernelsup_restarts_total",
			Help: "Supervisor restarts by result",
		}, []string{"result"}),
		Heartbeats: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kernelsup_heartbeats_total",
			Help: "Client heartbeats sent by result",
		}, []string{"result"}),
		ServerUp: f.NewGauge(prometheus.GaugeOpts{
			Name: "kernelsup_server_up",
			Help: "1 while the supervisor server is ready",
		}),
		VersionMatches: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kernelsup_server_version_info",
			Help: "Reported server version; value is 1 when it matches the expected version",
		}, []string{"version"}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "kernelsup_sessions_active",
			Help: "Session handles currently tracked",
		}),
		SessionOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kernelsup_session_operations_total",
			Help: "Session operations by kind and result",
		}, []string{"op", "result"}),
		Disconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kernelsup_session_disconnects_total",
			Help: "Session event stream disconnects by reason",
		}, []string{"reason"}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kernelsup_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"method", "route", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kernelsup_http_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		WSConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "kernelsup_ws_connections",
			Help: "Open event WebSocket connections",
		}),
	}
}

// Result returns "ok" or "failed" for err.
func Result(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
