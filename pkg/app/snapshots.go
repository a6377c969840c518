package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/eventsync/pkg/events"
	"github.com/cuemby/eventsync/pkg/loader"
	"github.com/cuemby/eventsync/pkg/mirror"
	"github.com/cuemby/eventsync/pkg/preload"
	"github.com/cuemby/eventsync/pkg/telemetry"
	"github.com/cuemby/eventsync/pkg/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// LoadSnapshots loads every stream through the preload queue. Streams that
// already loaded, or are loading, are not fetched again; a failed load is
// forgotten so the next call retries it.
func (a *App) LoadSnapshots(ctx context.Context) error {
	if a.opts.Loader == nil {
		return nil
	}

	ctx, span := telemetry.Tracer().Start(ctx, "app.LoadSnapshots")
	defer span.End()

	a.mu.Lock()
	scope := a.scope
	a.mu.Unlock()

	// Loads are shared between callers, so they run on the queue's context
	// and only borrow the caller's span as their parent.
	parent := trace.SpanContextFromContext(ctx)
	bindings := a.bindings()
	futures := make([]*preload.Future[int], len(bindings))
	for i, b := range bindings {
		futures[i] = a.loads.Load(b.stream, func(taskCtx context.Context) (int, error) {
			taskCtx, cancel := context.WithTimeout(taskCtx, a.opts.LoadTimeout)
			defer cancel()
			return a.loadStream(trace.ContextWithSpanContext(taskCtx, parent), b, scope)
		})
	}

	var errs []error
	total := 0
	for i, b := range bindings {
		n, err := futures[i].Wait(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("stream %s: %w", b.stream, err))
			continue
		}
		total += n
	}

	span.SetAttributes(attribute.Int("eventsync.snapshots", total))
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.mu.Lock()
		a.lastErr = err.Error()
		a.mu.Unlock()
		a.emit(events.EventSnapshotsFailed, err.Error(), nil)
		return err
	}

	a.mu.Lock()
	a.lastLoad = time.Now()
	a.mu.Unlock()
	a.emit(events.EventSnapshotsLoaded, fmt.Sprintf("%d snapshots applied", total), nil)
	return nil
}

// ReloadSnapshots forgets previous loads and fetches every stream again
func (a *App) ReloadSnapshots(ctx context.Context) error {
	for _, b := range a.bindings() {
		a.loads.Forget(b.stream)
	}
	return a.LoadSnapshots(ctx)
}

// loadStream fetches one stream and applies each snapshot as if it had
// arrived on the bus under the stream's snapshot subject
func (a *App) loadStream(ctx context.Context, b binding, scope string) (int, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "app.loadStream")
	defer span.End()
	span.SetAttributes(spanAttrs(b.stream))

	logger := a.logger.With().Str("stream", b.stream).Logger()

	payloads, err := a.opts.Loader.LoadSnapshots(ctx, b.stream)
	if errors.Is(err, loader.ErrStreamNotFound) {
		logger.Debug().Msg("no snapshots for stream")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	subj := scopedSubject(b.snapshotSubject, b.scoped, scope)
	applied := 0
	for _, payload := range payloads {
		msg := &types.Message{
			Subject:    subj,
			Payload:    payload,
			ReceivedAt: time.Now(),
		}
		result, err := b.handle(msg)
		if err != nil {
			a.recordViolation(subj, err)
			continue
		}
		if result == mirror.ResultApplied {
			applied++
		}
	}

	logger.Info().Int("received", len(payloads)).Int("applied", applied).Msg("snapshots loaded")
	return applied, nil
}
