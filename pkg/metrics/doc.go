/*
Package metrics provides Prometheus metrics and component health for eventsync.

All collectors are package-level variables registered in init() and exposed
through Handler() on /metrics. Health state is tracked per component and
served on /health and /ready.

# Metrics

Transport:
  - eventsync_connection_state{state}
  - eventsync_reconnect_attempts_total
  - eventsync_reconnect_exhausted_total
  - eventsync_messages_received_total{subject}
  - eventsync_messages_published_total{subject}

Subscriptions and contracts:
  - eventsync_subscriptions_active
  - eventsync_resubscriptions_total
  - eventsync_contract_violations_total{direction}

Mirrors:
  - eventsync_envelopes_total{stream,result}
  - eventsync_mirror_entries{stream}
  - eventsync_merge_duration_seconds{stream}

Preload:
  - eventsync_preload_in_flight
  - eventsync_preload_queued
  - eventsync_preload_failures_total

# Timer

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.MergeDuration, stream)

# Health

Components report through UpdateComponent. Readiness requires every entry
of CriticalComponents (catalog, transport, subscriptions) to be healthy.
*/
package metrics
