/*
Package transport provides the single bus connection used by the client.

A Transport wraps one connection to the message bus and drives it through a
reconnect.Machine. It publishes JSON payloads, registers subject interest
and fans inbound frames out to MessageHandler listeners on one dispatch
goroutine per connection, so handlers observe frames in arrival order.

# Implementations

WebSocket speaks a small JSON frame protocol over gorilla/websocket:

	{"op":"sub","subject":"round.created.v1"}
	{"op":"pub","id":"...","subject":"round.created.v1","payload":{...}}
	{"op":"msg","id":"...","subject":"round.created.v1","payload":{...}}

Every handshake carries an instance id header and, when configured, a
bearer token. A single writer goroutine owns the socket and sends pings;
the reader extends its deadline on every pong.

Mock attaches to an in-process Bus. The bus forgets a connection's
subscriptions when the connection closes, which makes it useful for tests
that verify resubscription after Drop.

# Reconnect notification

OnReconnect listeners run on every transition into connected, including the
first connection. Subscription state lives with the caller; after any new
connection the bus knows nothing about earlier subscriptions.

# Usage

	bus := transport.NewBus()
	t := transport.NewMock(bus, reconnect.DefaultConfig())
	t.OnMessage(func(msg *types.Message) {
		fmt.Println(msg.Subject, string(msg.Payload))
	})
	if err := t.Connect(ctx, "mock://bus"); err != nil {
		return err
	}
	_ = t.Subscribe("leaderboard.updated.v1")
*/
package transport
