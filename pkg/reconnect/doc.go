/*
Package reconnect implements the connection state machine shared by every
transport.

# States

	disconnected ──Connect──▶ connecting ──ok──▶ connected
	                              │                  │
	                            fail           ConnectionLost
	                              ▼                  ▼
	                  failed ◀── reconnecting ◀──────┘
	              (attempt cap)     │
	                                └──timer──▶ connecting

A failed dial moves to reconnecting and schedules exactly one retry timer
with a delay taken from an exponential policy (cenkalti/backoff) capped at
MaxDelay. After MaxAttempts consecutive failures the machine becomes failed
and reports ErrReconnectExhausted instead of retrying forever. A successful
dial resets the failure counter and the delay policy.

Disconnect cancels the pending timer and any in-flight dial. Timers carry the
generation they were scheduled in, so a timer that races with Disconnect
never fires an attempt.

# Notifications

Listeners registered with OnTransition receive every Transition in order.
A connected transition with Recovered set marks a reconnect after a lost
connection. Transports notify their reconnect listeners on every connected
transition, the first one included.

# Usage

	m := reconnect.New(reconnect.DefaultConfig(), func(ctx context.Context) error {
		return dialSocket(ctx)
	})
	m.OnTransition(func(t reconnect.Transition) {
		logger.Info().Str("from", string(t.From)).Str("to", string(t.To)).Msg("transition")
	})
	m.Connect()
	if err := m.Wait(ctx); err != nil {
		return err
	}
*/
package reconnect
