/*
Package types defines the core data structures shared by eventsync packages.

The types here describe the wire frames received from the bus, the versioned
envelopes that carry mirrored state, the contracts that validate subjects and
payloads, and the domain payloads mirrored on the client side.

# Core Types

Transport:
  - Message: one subject+payload frame with optional headers
  - ConnectionState: disconnected, connecting, connected, reconnecting, failed

Envelopes:
  - Envelope: {type, schema, version, ts, payload} on the wire
  - EnvelopeType: snapshot replaces an entry, delta patches it

Contracts:
  - Contract: subject or subject pattern plus payload schema
  - ContractKind: exact or pattern resolution

Mirrored domain payloads:
  - Leaderboard / LeaderboardEntry
  - Round / RoundParticipant
  - UserProfile

# Wire Format

Envelopes are JSON objects:

	{
	  "type": "snapshot",
	  "schema": "round.v1",
	  "version": 7,
	  "ts": "2025-04-01T18:00:00Z",
	  "payload": {"id": "r-1", "title": "Weekly Doubles", "state": "upcoming"}
	}

A payload without the type and version keys is a raw event. The mirror
package applies it like a snapshot without moving the entry's version.
*/
package types
