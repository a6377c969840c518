/*
Package mirror keeps client-side copies of server state consistent with a
stream of versioned envelopes.

# Envelopes

An envelope wraps a payload with a type and a version:

	{"type":"snapshot","schema":"round","version":7,"ts":"...","payload":{...}}

A snapshot replaces the entry for its key. A delta is an RFC 7386 merge
patch applied to the current entry. Payloads that are not envelopes (no
"type" and "version" keys) replace the entry like a snapshot but leave the
last applied version as it was, so a later server envelope is never taken
for stale. This covers raw events such as leaderboard.updated.v1.

# Merge rules

For every key a Stream tracks the last applied version:

  - An envelope at or below that version is stale and is dropped without error.
  - A snapshot is validated against the contract, committed, and then any
    buffered deltas newer than it are replayed in version order.
  - A delta is checked field by field against its contract, then, for a key
    with no snapshot, buffered. The buffer is bounded per
    key (DefaultBufferSize) and evicts the oldest delta first.
  - A delta for a known key is merged onto a copy of the entry, the merged
    value is validated against the contract, and only then committed.

Any message that fails decoding or validation is rejected with a
*contract.ContractViolation and leaves the mirror unchanged. Redelivering
earlier envelopes in any order never changes the final state.

Remove applies a versioned deletion and keeps the version as a tombstone so
a late redelivery of the original create is still stale.

# Persistence

With a Persister every commit is written through, and Restore reloads the
last committed entries and versions on cold start.

# Usage

	rounds := mirror.NewRoundStream(mirror.WithValidator(index))
	result, err := rounds.Handle(msg)
	if err != nil {
		// rejected, already counted and logged
	}
	round, ok := rounds.Mirror().Get("r-1")
*/
package mirror
