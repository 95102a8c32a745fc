package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	SessionsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hutch_sessions",
			Help: "Number of sessions by status",
		},
		[]string{"status"},
	)

	SessionsLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hutch_sessions_live",
			Help: "Number of live sessions (pending, starting or running)",
		},
	)

	SessionCapacity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hutch_session_capacity",
			Help: "Configured maximum number of concurrent sessions",
		},
	)

	PortsAllocated = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hutch_ports_allocated",
			Help: "Number of host ports currently allocated to sessions",
		},
	)

	PortsCapacity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hutch_ports_capacity",
			Help: "Size of the configured host port range",
		},
	)

	SessionCreates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_session_creates_total",
			Help: "Total number of session create attempts by outcome",
		},
		[]string{"outcome"},
	)

	SessionStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_session_stops_total",
			Help: "Total number of session stops by reason",
		},
		[]string{"reason"},
	)

	SessionCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hutch_session_create_duration_seconds",
			Help:    "Time from create request to running session in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 15, 30, 45},
		},
	)

	// Proxy metrics
	ProxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_proxy_requests_total",
			Help: "Total number of proxied requests by kind",
		},
		[]string{"kind"},
	)

	ProxyErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hutch_proxy_errors_total",
			Help: "Total number of proxy requests that failed upstream",
		},
	)

	// Event hub metrics
	EventSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hutch_event_subscribers",
			Help: "Number of connected WebSocket event subscribers",
		},
	)

	EventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hutch_events_dropped_total",
			Help: "Total number of events dropped because a subscriber was slow",
		},
	)

	// Auth metrics
	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_auth_failures_total",
			Help: "Total number of rejected requests by reason",
		},
		[]string{"reason"},
	)

	QuotaChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_quota_checks_total",
			Help: "Total number of quota checks by outcome",
		},
		[]string{"outcome"},
	)

	RateLimitRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hutch_rate_limit_rejections_total",
			Help: "Total number of requests rejected by the per-client rate limiter",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hutch_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Build metadata, value is always 1
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hutch_build_info",
			Help: "Build information about the running gateway",
		},
		[]string{"version", "commit"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(SessionsByStatus)
	prometheus.MustRegister(SessionsLive)
	prometheus.MustRegister(SessionCapacity)
	prometheus.MustRegister(PortsAllocated)
	prometheus.MustRegister(PortsCapacity)
	prometheus.MustRegister(SessionCreates)
	prometheus.MustRegister(SessionStops)
	prometheus.MustRegister(SessionCreateDuration)
	prometheus.MustRegister(ProxyRequestsTotal)
	prometheus.MustRegister(ProxyErrorsTotal)
	prometheus.MustRegister(EventSubscribers)
	prometheus.MustRegister(EventsDroppedTotal)
	prometheus.MustRegister(AuthFailuresTotal)
	prometheus.MustRegister(QuotaChecks)
	prometheus.MustRegister(RateLimitRejections)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(BuildInfo)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
