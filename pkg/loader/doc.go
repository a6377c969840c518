// Package loader fetches the current snapshots of a stream.
//
// The HTTP loader issues GET <base>/snapshots/<stream> and expects a JSON
// array of envelopes or raw payloads. A 404 maps to ErrStreamNotFound, which
// callers treat as an empty stream.
package loader
