/*
Package storage provides the BoltDB-backed mirror cache.

Every committed mirror entry is written as a JSON MirrorRecord into a nested
bucket named after its stream, keyed by the entry key. On cold start each
stream reloads its records so versions already applied before a restart are
still treated as stale.

	<dataDir>/eventsync.db
	  streams/
	    leaderboard/  default -> {"version":12,"value":{...}}
	    rounds/       r-1     -> {"version":4,"value":{...}}
	                  r-2     -> {"version":7,"deleted":true}
	    profiles/     u-1     -> {...}
	  meta/
	    format        -> "1"

A database written with a different record format is reset on open rather
than partially decoded. Reads use db.View and may run concurrently; writes
are serialized by db.Update.
*/
package storage
