/*
Package metrics provides Prometheus metrics collection and exposition for Hutch.

The metrics package defines and registers all Hutch metrics using the Prometheus
client library, providing observability into session occupancy, port pool
pressure, create latency, proxy traffic, and auth rejections. Metrics are
exposed via HTTP endpoint for scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                             │          │
	│  │  Sessions: counts by status, live, caps     │          │
	│  │  Ports: allocated, capacity                 │          │
	│  │  Lifecycle: creates, stops, create latency  │          │
	│  │  Proxy: request count, upstream errors      │          │
	│  │  Events: subscribers, dropped messages      │          │
	│  │  Auth: failures, quota checks, rate limits  │          │
	│  │  API: request count, duration               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Collector (15s ticker)             │          │
	│  │  - Polls session manager Stats()            │          │
	│  │  - Sets occupancy gauges                    │          │
	│  │  - Resets drained statuses to zero          │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘          │
	└───────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Automatic collection of Go runtime metrics
  - Thread-safe for concurrent updates

Collector:
  - Polls the session manager through the StatsSource interface
  - Runs on a 15 second ticker, collecting once immediately on Start
  - Sets every status gauge explicitly so drained statuses read zero
  - Stopped by closing its stop channel

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

Component Health Registry:
  - Tracks per-component health (runtime, policy, api)
  - Serves /health, /health/ready and /health/live handlers
  - Readiness requires every critical component registered and healthy

# Metrics Catalog

Session Metrics:

hutch_sessions{status}:
  - Type: Gauge
  - Description: Sessions by status (pending/starting/running/stopping/stopped/error)
  - Example: hutch_sessions{status="running"} 7

hutch_sessions_live:
  - Type: Gauge
  - Description: Sessions currently holding resources
  - Example: hutch_sessions_live 9

hutch_session_capacity:
  - Type: Gauge
  - Description: Configured concurrent-session ceiling

hutch_ports_allocated / hutch_ports_capacity:
  - Type: Gauge
  - Description: Host port pool pressure

hutch_session_creates_total{outcome}:
  - Type: Counter
  - Description: Create attempts by outcome (created/rejected/failed)

hutch_session_stops_total{reason}:
  - Type: Counter
  - Description: Stops by reason (api/idle/crash/orphan)

hutch_session_create_duration_seconds:
  - Type: Histogram
  - Description: Time from create request to running session
  - Buckets: 0.5 to 45 seconds, tuned around dev-server boot time

Proxy Metrics:

hutch_proxy_requests_total{kind}:
  - Type: Counter
  - Description: Proxied requests by kind (http/websocket)

hutch_proxy_errors_total:
  - Type: Counter
  - Description: Requests that failed against the upstream worker

Event Hub Metrics:

hutch_event_subscribers:
  - Type: Gauge
  - Description: Connected WebSocket subscribers

hutch_events_dropped_total:
  - Type: Counter
  - Description: Messages dropped because a subscriber could not keep up

Auth Metrics:

hutch_auth_failures_total{reason}:
  - Type: Counter
  - Description: Rejected requests by reason (invalid_key/invalid_token/forbidden/ownership)

hutch_quota_checks_total{outcome}:
  - Type: Counter
  - Description: Quota checks by outcome (allowed/denied/unavailable)

hutch_rate_limit_rejections_total:
  - Type: Counter
  - Description: Requests rejected by the per-client rate limiter

API Metrics:

hutch_api_requests_total{method, status}:
  - Type: Counter
  - Description: API requests by HTTP method and status

hutch_api_request_duration_seconds{method}:
  - Type: Histogram
  - Description: API request duration in seconds

Build Metrics:

hutch_build_info{version, commit}:
  - Type: Gauge
  - Description: Always 1; labels carry the build identity

# Usage

Updating metrics from the hot path:

	import "github.com/cuemby/hutch/pkg/metrics"

	metrics.SessionCreates.WithLabelValues("created").Inc()
	metrics.ProxyErrorsTotal.Inc()

Timing an operation:

	timer := metrics.NewTimer()
	// ... create the session ...
	timer.ObserveDuration(metrics.SessionCreateDuration)

Running the collector:

	collector := metrics.NewCollector(sessionManager)
	collector.Start()
	defer collector.Stop()

Exposing the endpoint:

	mux.Handle("/metrics", metrics.Handler())

# Integration Points

This package integrates with:

  - pkg/session: increments lifecycle counters, serves Stats() to the collector
  - pkg/proxy: counts proxied requests and upstream failures
  - pkg/events: tracks subscriber count and dropped messages
  - pkg/auth: counts rejections and quota outcomes
  - pkg/api: instruments request duration, mounts /metrics and health handlers
  - cmd/hutch: sets hutch_build_info and starts the collector

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration
  - Ensures metrics available before main()

Label Discipline:
  - Labels are bounded enums: status, outcome, reason, kind
  - Session IDs never appear as label values
  - Session IDs are capability tokens; putting them in metrics would
    leak them to anyone who can scrape the endpoint

Pull Collection:
  - Occupancy gauges are derived by polling, not by per-event updates
  - One Stats() snapshot per cycle keeps gauges mutually consistent
  - Counters are still updated at the point of the event

# Monitoring

Prometheus queries (PromQL):

Occupancy:
  - Live sessions: hutch_sessions_live
  - Headroom: hutch_session_capacity - hutch_sessions_live
  - Port pressure: hutch_ports_allocated / hutch_ports_capacity

Lifecycle:
  - Create failure rate: rate(hutch_session_creates_total{outcome="failed"}[5m])
  - Capacity rejections: rate(hutch_session_creates_total{outcome="rejected"}[5m])
  - p95 boot time: histogram_quantile(0.95, hutch_session_create_duration_seconds_bucket)
  - Crash rate: rate(hutch_session_stops_total{reason="crash"}[5m])

Traffic:
  - Proxy request rate: rate(hutch_proxy_requests_total[1m])
  - Proxy error ratio: rate(hutch_proxy_errors_total[5m]) / rate(hutch_proxy_requests_total[5m])
  - p95 API latency: histogram_quantile(0.95, hutch_api_request_duration_seconds_bucket)

Abuse:
  - Auth failure rate: rate(hutch_auth_failures_total[5m])
  - Rate limit pressure: rate(hutch_rate_limit_rejections_total[5m])
  - Quota store outages: rate(hutch_quota_checks_total{outcome="unavailable"}[5m])

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
