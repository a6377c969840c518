/*
Package events provides the in-memory broker for client lifecycle events.

The app publishes an Event whenever something a user or operator cares
about happens: the connection changes state, subscriptions become ready
after a (re)connect, snapshots load or fail, the client goes offline. The
broker broadcasts each event to every subscriber channel and keeps a short
history that the status server exposes at /events.

	Publisher → event channel (buffer: 100) → broadcast loop → subscribers (buffer: 50 each)

Publishing never blocks on a slow subscriber: when a subscriber's buffer is
full the event is skipped for that subscriber only. Start and Stop are
idempotent, and events published after Stop are dropped.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for event := range sub {
		logger.Info().Str("type", string(event.Type)).Msg(event.Message)
	}
*/
package events
