/*
Package api serves the read-only HTTP status surface of an eventsync client.

# Endpoints

	GET /health           liveness, 503 when a component reports unhealthy
	GET /ready            readiness of catalog, transport and subscriptions
	GET /metrics          Prometheus metrics
	GET /status           app phase, connection state, subscriptions, mirror sizes
	GET /mirrors/{name}   raw entries of the leaderboard, rounds or profiles mirror
	GET /events           recent lifecycle events, oldest first

Every other method is rejected by the ReadOnly middleware with 405, and each
client IP is rate limited to DefaultRateLimit requests per second.

# Usage

	status := api.NewStatusServer(client, broker)
	srv := api.NewServer(status, cfg.Telemetry.Enabled)
	go func() {
		if err := srv.Start(cfg.StatusAddr); err != nil {
			logger.Error().Err(err).Msg("status server failed")
		}
	}()
	defer srv.Shutdown(ctx)

When tracing is enabled every request runs inside an otelhttp server span.
*/
package api
