/*
Package log provides structured logging for eventsync using zerolog.

The package wraps a global zerolog.Logger with component-scoped child loggers
so every line carries the component (transport, reconnect, subscription,
mirror, preload, app) that emitted it.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("mirror")
	logger.Warn().Str("subject", msg.Subject).Err(err).Msg("contract violation, message dropped")

Console output is used when JSONOutput is false:

	10:30AM INF connected component=transport url=wss://bus.example/ws

# Fields

  - component: emitting package
  - subject: bus subject of the frame being handled
  - stream: mirror stream name (schema)
*/
package log
