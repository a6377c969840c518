package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transport metrics
	ConnectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventsync_connection_state",
			Help: "Current transport connection state (1 for the active state)",
		},
		[]string{"state"},
	)

	ReconnectAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventsync_reconnect_attempts_total",
			Help: "Total number of reconnect attempts",
		},
	)

	ReconnectExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventsync_reconnect_exhausted_total",
			Help: "Total number of times the reconnect attempt cap was reached",
		},
	)

	MessagesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsync_messages_received_total",
			Help: "Total number of frames received by subject",
		},
		[]string{"subject"},
	)

	MessagesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsync_messages_published_total",
			Help: "Total number of frames published by subject",
		},
		[]string{"subject"},
	)

	// Subscription metrics
	SubscriptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventsync_subscriptions_active",
			Help: "Number of logically-active subscriptions",
		},
	)

	ResubscriptionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventsync_resubscriptions_total",
			Help: "Total number of subjects re-issued after a reconnect",
		},
	)

	// Contract metrics
	ContractViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsync_contract_violations_total",
			Help: "Total number of payloads rejected by contract validation",
		},
		[]string{"direction"},
	)

	// Merge metrics
	EnvelopesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsync_envelopes_total",
			Help: "Total number of envelopes handled by stream and result",
		},
		[]string{"stream", "result"},
	)

	MirrorEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventsync_mirror_entries",
			Help: "Number of entries held by each mirror",
		},
		[]string{"stream"},
	)

	MergeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventsync_merge_duration_seconds",
			Help:    "Time taken to merge an envelope into a mirror in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stream"},
	)

	// Preload metrics
	PreloadInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventsync_preload_in_flight",
			Help: "Number of preload tasks currently running",
		},
	)

	PreloadQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventsync_preload_queued",
			Help: "Number of preload tasks waiting for a slot",
		},
	)

	PreloadFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventsync_preload_failures_total",
			Help: "Total number of preload tasks that returned an error",
		},
	)

	// App metrics
	InitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventsync_init_duration_seconds",
			Help:    "Time taken by the app init sequence in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(ConnectionState)
	prometheus.MustRegister(ReconnectAttemptsTotal)
	prometheus.MustRegister(ReconnectExhaustedTotal)
	prometheus.MustRegister(MessagesReceivedTotal)
	prometheus.MustRegister(MessagesPublishedTotal)
	prometheus.MustRegister(SubscriptionsActive)
	prometheus.MustRegister(ResubscriptionsTotal)
	prometheus.MustRegister(ContractViolationsTotal)
	prometheus.MustRegister(EnvelopesTotal)
	prometheus.MustRegister(MirrorEntries)
	prometheus.MustRegister(MergeDuration)
	prometheus.MustRegister(PreloadInFlight)
	prometheus.MustRegister(PreloadQueued)
	prometheus.MustRegister(PreloadFailuresTotal)
	prometheus.MustRegister(InitDuration)
}

// SetConnectionState marks state as the only active connection state
func SetConnectionState(state string) {
	ConnectionState.Reset()
	ConnectionState.WithLabelValues(state).Set(1)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
