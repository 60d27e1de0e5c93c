package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Read metrics - Track ledger queries
var (
	ReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotterydash_reads_total",
			Help: "Total number of ledger read queries executed by query",
		},
		[]string{"query"},
	)

	ReadFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotterydash_read_failures_total",
			Help: "Total number of failed ledger read queries by query",
		},
		[]string{"query"},
	)

	ReadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lotterydash_read_duration_seconds",
			Help:    "Time taken by a single ledger read query",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	DiscardedResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lotterydash_read_results_discarded_total",
		Help: "Read results dropped because their dependencies changed or the aggregator closed",
	})

	Revalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lotterydash_revalidations_total",
		Help: "Total number of full read revalidations",
	})
)

// Write metrics - Track transaction lifecycles
var (
	WriteTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotterydash_write_transitions_total",
			Help: "Write operation phase transitions by operation and target phase",
		},
		[]string{"operation", "phase"},
	)

	WriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotterydash_write_failures_total",
			Help: "Failed write operations by operation and failure class",
		},
		[]string{"operation", "class"},
	)

	StaleConfirmations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lotterydash_stale_confirmations_total",
		Help: "Write operations whose confirmation wait timed out",
	})
)

// Price metrics - Track the price feed
var (
	PriceRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotterydash_price_refreshes_total",
			Help: "Price refresh attempts by source and result",
		},
		[]string{"source", "result"},
	)

	PriceLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lotterydash_price_last_success_timestamp_seconds",
		Help: "Unix time of the last successful price refresh",
	})

	PriceUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lotterydash_price_usd",
		Help: "Last known asset price in USD",
	})
)

// State metrics - Track current dashboard state
var (
	CountdownRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lotterydash_countdown_remaining_seconds",
		Help: "Locally ticking seconds until the next draw",
	})

	CountdownSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lotterydash_countdown_subscribers",
		Help: "Number of active countdown stream subscribers",
	})
)

// HTTP metrics - Track the dashboard API
var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotterydash_http_requests_total",
			Help: "HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lotterydash_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)
