package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/eventsync/pkg/contract"
	"github.com/cuemby/eventsync/pkg/events"
	"github.com/cuemby/eventsync/pkg/loader"
	"github.com/cuemby/eventsync/pkg/log"
	"github.com/cuemby/eventsync/pkg/metrics"
	"github.com/cuemby/eventsync/pkg/mirror"
	"github.com/cuemby/eventsync/pkg/preload"
	"github.com/cuemby/eventsync/pkg/reconnect"
	"github.com/cuemby/eventsync/pkg/session"
	"github.com/cuemby/eventsync/pkg/subscription"
	"github.com/cuemby/eventsync/pkg/telemetry"
	"github.com/cuemby/eventsync/pkg/transport"
	"github.com/cuemby/eventsync/pkg/types"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrUnauthenticated is returned by Initialize when the session is not authenticated
	ErrUnauthenticated = errors.New("session is not authenticated")

	// ErrDestroyed is returned by Initialize after Destroy
	ErrDestroyed = errors.New("app destroyed")
)

// Phase is the lifecycle phase of the app
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseInitializing Phase = "initializing"
	PhaseReady        Phase = "ready"
	PhaseOffline      Phase = "offline"
	PhaseDestroyed    Phase = "destroyed"
)

// Options wires the app to its collaborators
type Options struct {
	URL       string
	Scope     string
	Transport transport.Transport
	Session   session.Provider
	Index     *contract.Index

	// Loader fetches snapshots; without one only pushed envelopes fill the mirrors
	Loader loader.Loader
	// Store persists mirrors between runs
	Store mirror.Persister
	// Queue runs snapshot loads; the app creates and owns one when nil
	Queue *preload.Queue
	// Events receives lifecycle events when set
	Events *events.Broker

	DeltaBufferSize int
	LoadTimeout     time.Duration
}

// Status is a point-in-time view of the app
type Status struct {
	Phase         Phase                 `json:"phase"`
	Connection    types.ConnectionState `json:"connection"`
	Authenticated bool                  `json:"authenticated"`
	UserID        string                `json:"userId,omitempty"`
	Scope         string                `json:"scope,omitempty"`
	Subscriptions []string              `json:"subscriptions"`
	Mirrors       map[string]int        `json:"mirrors"`
	Violations    int                   `json:"violations"`
	LastLoad      time.Time             `json:"lastLoad,omitempty"`
	LastError     string                `json:"lastError,omitempty"`
}

// App orchestrates session, transport, subscriptions, mirrors and snapshot loading
type App struct {
	opts    Options
	manager *subscription.Manager
	queue   *preload.Queue
	ownsQ   bool
	loads   *preload.Cache[int]
	logger  zerolog.Logger

	leaderboard *mirror.Stream[types.Leaderboard]
	rounds      *mirror.Stream[types.Round]
	profiles    *mirror.Stream[types.UserProfile]

	// lifecycle is held for the whole of Initialize and Destroy
	lifecycle sync.Mutex

	mu         sync.Mutex
	phase      Phase
	session    session.Result
	scope      string
	violations int
	lastLoad   time.Time
	lastErr    string
	detach     []func()
}

// New creates an app. Nothing is started until Initialize.
func New(opts Options) (*App, error) {
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if opts.Session == nil {
		return nil, errors.New("session provider is required")
	}
	if opts.Index == nil {
		return nil, fmt.Errorf("contract index is required: %w", contract.ErrCatalogMissing)
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 30 * time.Second
	}

	a := &App{
		opts:    opts,
		manager: subscription.NewManager(opts.Transport),
		queue:   opts.Queue,
		logger:  log.WithComponent("app"),
		phase:   PhaseIdle,
	}
	if a.queue == nil {
		a.queue = preload.NewQueue(preload.DefaultMaxConcurrent)
		a.ownsQ = true
	}
	a.loads = preload.NewCache[int](a.queue)

	streamOpts := []mirror.Option{
		mirror.WithValidator(opts.Index),
		mirror.WithBufferSize(opts.DeltaBufferSize),
	}
	if opts.Store != nil {
		streamOpts = append(streamOpts, mirror.WithPersister(opts.Store))
	}
	a.leaderboard = mirror.NewLeaderboardStream(streamOpts...)
	a.rounds = mirror.NewRoundStream(streamOpts...)
	a.profiles = mirror.NewProfileStream(streamOpts...)

	metrics.UpdateComponent(metrics.ComponentCatalog, true, fmt.Sprintf("%d contracts", opts.Index.Len()))
	return a, nil
}

// Initialize runs the startup sequence: session, connect, reconnect
// recovery, subscriptions, initial snapshots. When the session reports that
// the context already switched with data loaded, the connect and the initial
// load are skipped. Calling Initialize again after success is a no-op.
func (a *App) Initialize(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.Lock()
	switch a.phase {
	case PhaseDestroyed:
		a.mu.Unlock()
		return ErrDestroyed
	case PhaseReady, PhaseOffline:
		a.mu.Unlock()
		return nil
	}
	a.phase = PhaseInitializing
	a.mu.Unlock()

	ctx, span := telemetry.Tracer().Start(ctx, "app.Initialize")
	defer span.End()
	timer := metrics.NewTimer()

	err := a.initialize(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.mu.Lock()
		if a.phase == PhaseInitializing {
			a.phase = PhaseIdle
		}
		a.lastErr = err.Error()
		a.mu.Unlock()
		return err
	}

	timer.ObserveDuration(metrics.InitDuration)
	a.mu.Lock()
	phase := a.phase
	a.mu.Unlock()
	a.emit(events.EventAppInitialized, "app initialized", map[string]string{"phase": string(phase)})
	return nil
}

func (a *App) initialize(ctx context.Context) error {
	result, err := a.opts.Session.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize session: %w", err)
	}
	if !result.Authenticated {
		return ErrUnauthenticated
	}

	scope := a.opts.Scope
	if scope == "" {
		scope = result.Scope
	}
	a.mu.Lock()
	a.session = result
	a.scope = scope
	a.mu.Unlock()

	a.restore()

	a.watchTransport()
	if err := a.subscribe(scope); err != nil {
		a.teardown()
		return err
	}

	if result.SwitchedContextWithDataLoad {
		a.logger.Info().Str("user_id", result.UserID).Msg("context already switched, skipping connect and initial load")
		a.registerRecovery()
		if err := a.manager.Start(); err != nil {
			a.logger.Warn().Err(err).Msg("initial subscribe interrupted")
		}
		a.setPhase(PhaseReady)
		return nil
	}

	if err := a.opts.Transport.Connect(ctx, a.opts.URL); err != nil {
		if errors.Is(err, reconnect.ErrReconnectExhausted) {
			a.registerRecovery()
			_ = a.manager.Start()
			if a.Status().Phase != PhaseOffline {
				a.goOffline(err)
			}
			return fmt.Errorf("failed to connect: %w", err)
		}
		a.teardown()
		return fmt.Errorf("failed to connect: %w", err)
	}

	a.registerRecovery()
	if err := a.manager.Start(); err != nil {
		a.logger.Warn().Err(err).Msg("initial subscribe interrupted")
	}
	a.setPhase(PhaseReady)

	if err := a.LoadSnapshots(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("initial snapshot load incomplete")
	}
	return nil
}

// Destroy stops subscriptions, disconnects and releases owned resources.
// It is safe to call more than once.
func (a *App) Destroy() error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.Lock()
	if a.phase == PhaseDestroyed {
		a.mu.Unlock()
		return nil
	}
	a.phase = PhaseDestroyed
	a.mu.Unlock()

	a.teardown()
	err := a.opts.Transport.Disconnect()
	if a.ownsQ {
		a.queue.Close()
	}

	a.emit(events.EventAppDestroyed, "app destroyed", nil)
	a.logger.Info().Msg("app destroyed")
	return err
}

// Reconnect retries the connection after the app went offline
func (a *App) Reconnect(ctx context.Context) error {
	a.mu.Lock()
	phase := a.phase
	a.mu.Unlock()

	if phase != PhaseOffline {
		return nil
	}
	if err := a.opts.Transport.Connect(ctx, a.opts.URL); err != nil {
		return fmt.Errorf("failed to reconnect: %w", err)
	}
	return nil
}

// teardown detaches every listener and stops the subscription manager
func (a *App) teardown() {
	a.manager.Stop()

	a.mu.Lock()
	detach := a.detach
	a.detach = nil
	a.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
}

// restore loads cached mirrors so redelivered envelopes stay stale after a restart
func (a *App) restore() {
	if a.opts.Store == nil {
		return
	}
	for _, restore := range []func() error{a.leaderboard.Restore, a.rounds.Restore, a.profiles.Restore} {
		if err := restore(); err != nil {
			a.logger.Warn().Err(err).Msg("mirror cache unavailable")
			metrics.UpdateComponent(metrics.ComponentCache, false, err.Error())
			return
		}
	}
	metrics.UpdateComponent(metrics.ComponentCache, true, "restored")
}

func (a *App) subscribe(scope string) error {
	for _, r := range a.routes() {
		handle := r.handle
		subj := scopedSubject(r.subject, r.scoped, scope)
		if _, err := a.manager.Subscribe(subj, func(msg *types.Message) {
			if _, err := handle(msg); err != nil {
				a.recordViolation(msg.Subject, err)
			}
		}); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", subj, err)
		}
	}
	return nil
}

// registerRecovery reloads snapshots after every reconnect. The reload runs
// off the dispatch path because ready listeners run inside it.
func (a *App) registerRecovery() {
	unsubscribe := a.manager.OnReady(func(reconnected bool) {
		metrics.UpdateComponent(metrics.ComponentSubscriptions, true, "subscribed")
		a.emit(events.EventSubscriptionsReady, "subscriptions ready", map[string]string{
			"reconnected": fmt.Sprint(reconnected),
		})
		if !reconnected {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), a.opts.LoadTimeout)
			defer cancel()
			if err := a.ReloadSnapshots(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("snapshot reload after reconnect incomplete")
			}
		}()
	})

	a.mu.Lock()
	a.detach = append(a.detach, unsubscribe)
	a.mu.Unlock()
}

// watchTransport tracks connection health and the offline state
func (a *App) watchTransport() {
	unsubscribe := a.opts.Transport.OnStateChange(func(from, to types.ConnectionState, err error) {
		a.emit(events.EventConnectionChanged, fmt.Sprintf("%s -> %s", from, to), map[string]string{
			"from": string(from),
			"to":   string(to),
		})

		switch to {
		case types.ConnectionConnected:
			metrics.UpdateComponent(metrics.ComponentTransport, true, "connected")
			a.mu.Lock()
			if a.phase == PhaseOffline {
				a.phase = PhaseReady
			}
			a.mu.Unlock()
		case types.ConnectionFailed:
			a.goOffline(err)
		case types.ConnectionReconnecting:
			metrics.UpdateComponent(metrics.ComponentTransport, false, "reconnecting")
			metrics.UpdateComponent(metrics.ComponentSubscriptions, false, "awaiting resubscribe")
		}
	})

	a.mu.Lock()
	a.detach = append(a.detach, unsubscribe)
	a.mu.Unlock()
}

func (a *App) goOffline(err error) {
	msg := "reconnect attempts exhausted"
	if err != nil {
		msg = err.Error()
	}

	a.mu.Lock()
	if a.phase == PhaseDestroyed {
		a.mu.Unlock()
		return
	}
	a.phase = PhaseOffline
	a.lastErr = msg
	a.mu.Unlock()

	metrics.UpdateComponent(metrics.ComponentTransport, false, msg)
	a.emit(events.EventAppOffline, msg, nil)
	a.logger.Error().Str("reason", msg).Msg("app is offline")
}

func (a *App) recordViolation(subj string, err error) {
	a.mu.Lock()
	a.violations++
	a.mu.Unlock()

	a.emit(events.EventContractViolation, err.Error(), map[string]string{"subject": subj})
}

func (a *App) setPhase(p Phase) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.phase == PhaseInitializing {
		a.phase = p
	}
}

func (a *App) emit(t events.EventType, message string, metadata map[string]string) {
	if a.opts.Events != nil {
		a.opts.Events.Emit(t, message, metadata)
	}
}

// Status returns the current app status
func (a *App) Status() Status {
	status := Status{
		Connection:    a.opts.Transport.State(),
		Subscriptions: a.manager.Active(),
		Mirrors: map[string]int{
			mirror.StreamLeaderboard: a.leaderboard.Mirror().Len(),
			mirror.StreamRounds:      a.rounds.Mirror().Len(),
			mirror.StreamProfiles:    a.profiles.Mirror().Len(),
		},
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	status.Phase = a.phase
	status.Authenticated = a.session.Authenticated
	status.UserID = a.session.UserID
	status.Scope = a.scope
	status.Violations = a.violations
	status.LastLoad = a.lastLoad
	status.LastError = a.lastErr
	return status
}

// MirrorEntries returns the raw entries of the named mirror
func (a *App) MirrorEntries(name string) (map[string]json.RawMessage, bool) {
	switch name {
	case mirror.StreamLeaderboard:
		return a.leaderboard.Mirror().Raw(), true
	case mirror.StreamRounds:
		return a.rounds.Mirror().Raw(), true
	case mirror.StreamProfiles:
		return a.profiles.Mirror().Raw(), true
	}
	return nil, false
}

// Manager returns the subscription manager
func (a *App) Manager() *subscription.Manager {
	return a.manager
}

// Leaderboard returns the leaderboard mirror
func (a *App) Leaderboard() *mirror.Mirror[types.Leaderboard] {
	return a.leaderboard.Mirror()
}

// Rounds returns the round mirror
func (a *App) Rounds() *mirror.Mirror[types.Round] {
	return a.rounds.Mirror()
}

// Profiles returns the profile mirror
func (a *App) Profiles() *mirror.Mirror[types.UserProfile] {
	return a.profiles.Mirror()
}

// spanAttrs names a stream on a span
func spanAttrs(stream string) attribute.KeyValue {
	return attribute.String("eventsync.stream", stream)
}
