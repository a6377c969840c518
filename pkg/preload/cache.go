package preload

import (
	"context"
	"sync"
)

type cached[T any] struct {
	future *Future[T]
	gen    uint64
}

// Cache returns the same future for repeated loads of a key, so at most one
// load per key is in flight. Failed loads are evicted and may be retried.
type Cache[T any] struct {
	queue *Queue

	mu      sync.Mutex
	futures map[string]cached[T]
	gen     uint64
}

// NewCache creates a cache whose loads run on q
func NewCache[T any](q *Queue) *Cache[T] {
	return &Cache[T]{
		queue:   q,
		futures: make(map[string]cached[T]),
	}
}

// Load returns the cached future for key, enqueueing task on a miss
func (c *Cache[T]) Load(key string, task Task[T]) *Future[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.futures[key]; ok {
		return e.future
	}

	c.gen++
	gen := c.gen
	f := Enqueue(c.queue, func(ctx context.Context) (T, error) {
		value, err := call(ctx, task)
		if err != nil {
			c.evict(key, gen)
		}
		return value, err
	})
	c.futures[key] = cached[T]{future: f, gen: gen}

	// a closed queue resolves immediately without running the task
	select {
	case <-f.Done():
		if f.err != nil {
			delete(c.futures, key)
		}
	default:
	}
	return f
}

// Forget drops key so the next Load re-issues work
func (c *Cache[T]) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.futures, key)
}

// Clear drops every key
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.futures = make(map[string]cached[T])
}

// Len returns the number of cached keys
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.futures)
}

func (c *Cache[T]) evict(key string, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.futures[key]; ok && e.gen == gen {
		delete(c.futures, key)
	}
}
