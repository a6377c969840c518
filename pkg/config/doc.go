// Package config loads eventsync configuration from a YAML file overlaid by
// EVENTSYNC_* environment variables. Nested sections use their own prefix,
// for example EVENTSYNC_RECONNECT_MAX_ATTEMPTS or EVENTSYNC_OTEL_ENDPOINT.
package config
