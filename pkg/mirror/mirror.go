package mirror

import (
	"encoding/json"
	"sort"
	"sync"
)

type entry[T any] struct {
	raw   []byte
	value T
}

// Mirror is the client-held copy of one kind of server state, keyed by a
// stable id. Only a Stream mutates it; readers always get copies.
type Mirror[T any] struct {
	name string

	mu      sync.RWMutex
	entries map[string]entry[T]
}

// New creates an empty mirror
func New[T any](name string) *Mirror[T] {
	return &Mirror[T]{
		name:    name,
		entries: make(map[string]entry[T]),
	}
}

// Name returns the mirror name
func (m *Mirror[T]) Name() string {
	return m.name
}

// Get returns a copy of the entry for key
func (m *Mirror[T]) Get(key string) (T, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		var zero T
		return zero, false
	}
	return decodeCopy(e)
}

// Keys returns every key in sorted order
func (m *Mirror[T]) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// All returns a copy of every entry
func (m *Mirror[T]) All() map[string]T {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]T, len(m.entries))
	for k, e := range m.entries {
		if v, ok := decodeCopy(e); ok {
			out[k] = v
		}
	}
	return out
}

// Len returns the number of entries
func (m *Mirror[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Raw returns the JSON form of every entry
func (m *Mirror[T]) Raw() map[string]json.RawMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(m.entries))
	for k, e := range m.entries {
		raw := make([]byte, len(e.raw))
		copy(raw, e.raw)
		out[k] = raw
	}
	return out
}

func (m *Mirror[T]) set(key string, raw []byte, value T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry[T]{raw: raw, value: value}
}

func (m *Mirror[T]) remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// decodeCopy rebuilds the value from its JSON form so callers never share
// slices or maps with the mirror
func decodeCopy[T any](e entry[T]) (T, bool) {
	var out T
	if err := json.Unmarshal(e.raw, &out); err != nil {
		return e.value, true
	}
	return out, true
}
