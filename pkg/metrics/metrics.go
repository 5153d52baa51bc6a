// Package metrics defines the application's Prometheus collectors. They are
// registered onto the metrics server's registry at startup.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// APIRequests counts Bungie API requests by operation and outcome.
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sherpa_api_requests_total",
			Help: "Total number of Bungie API requests",
		},
		[]string{"operation", "outcome"},
	)

	// APIRetries counts requests retried after a 503 response.
	APIRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sherpa_api_retries_total",
			Help: "Total number of Bungie API retries after 503 responses",
		},
	)

	// PollCycles counts poller refresh cycles by kind and outcome.
	PollCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sherpa_poll_cycles_total",
			Help: "Total number of poller refresh cycles",
		},
		[]string{"kind", "outcome"},
	)

	// PGCRFetches counts carnage-report enrichment fetches by outcome.
	PGCRFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sherpa_pgcr_fetches_total",
			Help: "Total number of post-game carnage report fetches",
		},
		[]string{"outcome"},
	)

	// CachedActivities tracks the number of cached activities per profile.
	CachedActivities = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sherpa_cached_activities",
			Help: "Number of activities currently cached per profile",
		},
		[]string{"profile"},
	)
)

// Register adds all application collectors to the given registry.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		APIRequests,
		APIRetries,
		PollCycles,
		PGCRFetches,
		CachedActivities,
	)
}
