/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP API metrics
var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jukebox_api_request_duration_seconds",
		Help:    "HTTP request latency by method, route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_api_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jukebox_api_active_connections",
		Help: "HTTP requests currently being served.",
	})

	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jukebox_api_websocket_connections",
		Help: "Open observer WebSocket connections.",
	})
)

// Session metrics
var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jukebox_sessions_active",
		Help: "Sessions currently held by the registry.",
	})

	SessionTeardownsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_session_teardowns_total",
		Help: "Session teardowns by reason (idle, disconnect, shutdown).",
	}, []string{"reason"})

	TracksStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_tracks_started_total",
		Help: "Tracks that started playing, by platform.",
	}, []string{"platform"})

	TrackStartFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jukebox_track_start_failures_total",
		Help: "Tracks skipped because their stream could not be started.",
	})
)

// Resolver metrics
var (
	ResolverRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_resolver_requests_total",
		Help: "Resolver searches by outcome (found, cached, not_found).",
	}, []string{"outcome"})

	ResolverDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jukebox_resolver_duration_seconds",
		Help:    "Time spent resolving a query, including fallbacks.",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	})
)

// Observer metrics
var (
	ObserverBroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jukebox_observer_broadcasts_total",
		Help: "Snapshot broadcasts sent to observers.",
	})

	ObserversRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jukebox_observers_removed_total",
		Help: "Observers dropped after a failed update.",
	})
)

// Event bus metrics
var (
	EventsForwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_events_forwarded_total",
		Help: "Events relayed to NATS by result.",
	}, []string{"result"})
)

// Handler exposes metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
