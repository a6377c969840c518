/*
Package preload runs deferred loads of secondary data with a fixed
concurrency ceiling.

Enqueue starts a task at once when fewer than the ceiling are running and
otherwise queues it; queued tasks start in the order they were enqueued as
slots free up. Each task resolves its own Future, so an error or a panic in
one task reaches only that task's caller.

Cache sits on top of a Queue and hands out one Future per key: repeated
loads of a key return the same Future whether it is still running or
already resolved. A load that fails is evicted so the next Load retries it,
and Forget drops a key explicitly, for example to reload after a reconnect.

	q := preload.NewQueue(preload.DefaultMaxConcurrent)
	profiles := preload.NewCache[types.UserProfile](q)

	f := profiles.Load("u-1", func(ctx context.Context) (types.UserProfile, error) {
		return fetchProfile(ctx, "u-1")
	})
	profile, err := f.Wait(ctx)
*/
package preload
