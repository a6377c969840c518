/*
Package subscription owns the set of subjects the client listens to.

The Manager is the only holder of subscription state. A subject moves from
inactive to active on the first Subscribe call; repeated calls for an active
subject are no-ops. The transport keeps no memory of subscriptions across
connections, so on every connection the Manager re-issues Subscribe for each
active subject, sequentially and in first-registration order, and only then
notifies its ready listeners.

Inbound messages are dispatched to every active handler whose subject (which
may contain wildcards) matches the message subject. Handlers run on the
transport dispatch loop and must not block.

Stop deactivates every subscription and detaches the message and reconnect
listeners. It may be called any number of times.
*/
package subscription
