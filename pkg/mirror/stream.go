package mirror

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/eventsync/pkg/contract"
	"github.com/cuemby/eventsync/pkg/log"
	"github.com/cuemby/eventsync/pkg/metrics"
	"github.com/cuemby/eventsync/pkg/types"
	"github.com/rs/zerolog"
)

// ErrStaleEnvelope marks an envelope at or below the last applied version.
// Stale envelopes are dropped and counted; Handle never returns this error.
var ErrStaleEnvelope = errors.New("stale envelope")

// DefaultBufferSize is the number of early deltas kept per key
const DefaultBufferSize = 16

// Result is the outcome of handling one message
type Result string

const (
	ResultApplied  Result = "applied"
	ResultStale    Result = "stale"
	ResultBuffered Result = "buffered"
	ResultRejected Result = "rejected"
	ResultRemoved  Result = "removed"
)

// Validator checks payloads against the contract for their subject.
// ValidatePatch checks the fields a delta sets before any base exists.
type Validator interface {
	Validate(subject string, payload []byte) error
	ValidateValue(subject string, value any) error
	ValidatePatch(subject string, patch map[string]any) error
}

// Persister stores committed entries so a restart resumes at the same versions
type Persister interface {
	SaveRecord(rec types.MirrorRecord) error
	LoadRecords(stream string) ([]types.MirrorRecord, error)
}

// KeyFunc derives the mirror key from the message subject and decoded payload
type KeyFunc func(subject string, doc map[string]any) (string, error)

// Option configures a Stream
type Option func(*options)

type options struct {
	validator  Validator
	persister  Persister
	bufferSize int
	schema     string
}

// WithValidator validates every payload against the contract index
func WithValidator(v Validator) Option {
	return func(o *options) {
		o.validator = v
	}
}

// WithPersister writes every commit through p
func WithPersister(p Persister) Option {
	return func(o *options) {
		o.persister = p
	}
}

// WithBufferSize bounds the number of early deltas kept per key
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithSchema rejects envelopes that name a different schema
func WithSchema(schema string) Option {
	return func(o *options) {
		o.schema = schema
	}
}

type pendingDelta struct {
	subject string
	version uint64
	patch   map[string]any
}

// Stream applies versioned envelopes for one schema to a Mirror
type Stream[T any] struct {
	name   string
	mirror *Mirror[T]
	key    KeyFunc
	opts   options
	logger zerolog.Logger

	mu       sync.Mutex
	versions map[string]uint64
	docs     map[string]map[string]any
	pending  map[string][]pendingDelta
}

// NewStream creates a stream that feeds mirror
func NewStream[T any](mirror *Mirror[T], key KeyFunc, opts ...Option) *Stream[T] {
	o := options{bufferSize: DefaultBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	return &Stream[T]{
		name:     mirror.Name(),
		mirror:   mirror,
		key:      key,
		opts:     o,
		logger:   log.WithStream(mirror.Name()),
		versions: make(map[string]uint64),
		docs:     make(map[string]map[string]any),
		pending:  make(map[string][]pendingDelta),
	}
}

// Name returns the stream name
func (s *Stream[T]) Name() string {
	return s.name
}

// Mirror returns the mirror fed by this stream
func (s *Stream[T]) Mirror() *Mirror[T] {
	return s.mirror
}

// Version returns the last applied version for key
func (s *Stream[T]) Version(key string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[key]
	return v, ok
}

// Pending returns the number of buffered deltas for key
func (s *Stream[T]) Pending(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[key])
}

// Restore loads persisted records into the mirror
func (s *Stream[T]) Restore() error {
	if s.opts.persister == nil {
		return nil
	}
	records, err := s.opts.persister.LoadRecords(s.name)
	if err != nil {
		return fmt.Errorf("failed to restore %s: %w", s.name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		if rec.Version > 0 {
			s.versions[rec.Key] = rec.Version
		}
		if rec.Deleted {
			continue
		}
		doc, err := decodeObject(rec.Value)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", rec.Key).Msg("skipping unreadable cached entry")
			delete(s.versions, rec.Key)
			continue
		}
		var value T
		if err := json.Unmarshal(rec.Value, &value); err != nil {
			s.logger.Warn().Err(err).Str("key", rec.Key).Msg("skipping unreadable cached entry")
			delete(s.versions, rec.Key)
			continue
		}
		s.docs[rec.Key] = doc
		s.mirror.set(rec.Key, rec.Value, value)
	}
	metrics.MirrorEntries.WithLabelValues(s.name).Set(float64(s.mirror.Len()))
	s.logger.Info().Int("records", len(records)).Msg("mirror restored from cache")
	return nil
}

// Handle applies one message. Contract violations are returned with
// ResultRejected and leave the mirror untouched; stale envelopes return
// ResultStale and no error.
func (s *Stream[T]) Handle(msg *types.Message) (Result, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.MergeDuration, s.name)

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.handleLocked(msg)
	metrics.EnvelopesTotal.WithLabelValues(s.name, string(result)).Inc()
	if err != nil {
		metrics.ContractViolationsTotal.WithLabelValues("inbound").Inc()
		s.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping message")
	}
	return result, err
}

// Remove applies a versioned removal of the entry named by the message
func (s *Stream[T]) Remove(msg *types.Message) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.removeLocked(msg)
	metrics.EnvelopesTotal.WithLabelValues(s.name, string(result)).Inc()
	if err != nil {
		metrics.ContractViolationsTotal.WithLabelValues("inbound").Inc()
		s.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping removal")
	}
	return result, err
}

func (s *Stream[T]) handleLocked(msg *types.Message) (Result, error) {
	env, doc, raw, err := s.decode(msg)
	if err != nil {
		return ResultRejected, err
	}

	if s.opts.validator != nil {
		if env.Type == types.EnvelopeSnapshot {
			err = s.opts.validator.Validate(msg.Subject, env.Payload)
		} else {
			err = s.opts.validator.ValidatePatch(msg.Subject, doc)
		}
		if err != nil {
			return ResultRejected, err
		}
	}

	key, err := s.key(msg.Subject, doc)
	if err != nil {
		return ResultRejected, s.violation(msg.Subject, "cannot derive key", err)
	}

	// Raw payloads carry no server version. They replace the entry but leave
	// the version untouched so the next server envelope is still accepted.
	if raw {
		if err := s.store(key, s.versions[key], doc); err != nil {
			return ResultRejected, s.violation(msg.Subject, "payload does not decode", err)
		}
		s.replay(key)
		return ResultApplied, nil
	}

	last, seen := s.versions[key]
	if seen && env.Version <= last {
		s.logger.Debug().
			Str("key", key).
			Uint64("version", env.Version).
			Uint64("last", last).
			Err(ErrStaleEnvelope).
			Msg("dropping stale envelope")
		return ResultStale, nil
	}

	if env.Type == types.EnvelopeSnapshot {
		if err := s.commit(key, env.Version, doc); err != nil {
			return ResultRejected, s.violation(msg.Subject, "snapshot does not decode", err)
		}
		s.replay(key)
		return ResultApplied, nil
	}

	base, hasBase := s.docs[key]
	if !hasBase {
		s.buffer(key, pendingDelta{subject: msg.Subject, version: env.Version, patch: doc})
		return ResultBuffered, nil
	}

	if err := s.applyDelta(key, base, pendingDelta{subject: msg.Subject, version: env.Version, patch: doc}); err != nil {
		return ResultRejected, err
	}
	return ResultApplied, nil
}

func (s *Stream[T]) removeLocked(msg *types.Message) (Result, error) {
	env, doc, raw, err := s.decode(msg)
	if err != nil {
		return ResultRejected, err
	}
	if s.opts.validator != nil {
		if err := s.opts.validator.Validate(msg.Subject, env.Payload); err != nil {
			return ResultRejected, err
		}
	}
	key, err := s.key(msg.Subject, doc)
	if err != nil {
		return ResultRejected, s.violation(msg.Subject, "cannot derive key", err)
	}

	version := s.versions[key]
	if !raw {
		if last, seen := s.versions[key]; seen && env.Version <= last {
			return ResultStale, nil
		}
		version = env.Version
		s.versions[key] = version
	}

	delete(s.docs, key)
	delete(s.pending, key)
	s.mirror.remove(key)
	metrics.MirrorEntries.WithLabelValues(s.name).Set(float64(s.mirror.Len()))

	s.persist(types.MirrorRecord{Stream: s.name, Key: key, Version: version, Deleted: true})
	return ResultRemoved, nil
}

// decode unwraps the envelope. raw is true for payloads sent without one.
func (s *Stream[T]) decode(msg *types.Message) (env *types.Envelope, doc map[string]any, raw bool, err error) {
	env, isEnvelope, err := DecodeEnvelope(msg.Payload)
	if err != nil {
		return nil, nil, false, s.violation(msg.Subject, "malformed payload", err)
	}
	if isEnvelope && s.opts.schema != "" && env.Schema != "" && env.Schema != s.opts.schema {
		return nil, nil, false, s.violation(msg.Subject, fmt.Sprintf("unexpected schema %q", env.Schema), nil)
	}

	doc, err = decodeObject(env.Payload)
	if err != nil {
		return nil, nil, false, s.violation(msg.Subject, "payload is not an object", err)
	}
	return env, doc, !isEnvelope, nil
}

func (s *Stream[T]) applyDelta(key string, base map[string]any, d pendingDelta) error {
	merged := mergePatch(cloneDoc(base), d.patch)
	if s.opts.validator != nil {
		if err := s.opts.validator.ValidateValue(d.subject, merged); err != nil {
			return err
		}
	}
	if err := s.commit(key, d.version, merged); err != nil {
		return s.violation(d.subject, "merged value does not decode", err)
	}
	return nil
}

// commit replaces the entry for key and records version
func (s *Stream[T]) commit(key string, version uint64, doc map[string]any) error {
	if err := s.store(key, version, doc); err != nil {
		return err
	}
	s.versions[key] = version
	return nil
}

// store replaces the entry for key and persists it at version
func (s *Stream[T]) store(key string, version uint64, doc map[string]any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return err
	}

	s.docs[key] = doc
	s.mirror.set(key, raw, value)
	metrics.MirrorEntries.WithLabelValues(s.name).Set(float64(s.mirror.Len()))

	s.persist(types.MirrorRecord{Stream: s.name, Key: key, Version: version, Value: raw})
	return nil
}

func (s *Stream[T]) persist(rec types.MirrorRecord) {
	if s.opts.persister == nil {
		return
	}
	rec.UpdatedAt = time.Now()
	if err := s.opts.persister.SaveRecord(rec); err != nil {
		s.logger.Error().Err(err).Str("key", rec.Key).Msg("failed to persist mirror entry")
	}
}

// buffer keeps a delta until the first snapshot for key arrives. The buffer
// is ordered by version and bounded; the oldest delta is evicted first.
func (s *Stream[T]) buffer(key string, d pendingDelta) {
	queue := s.pending[key]
	for i, p := range queue {
		if p.version == d.version {
			queue[i] = d
			s.pending[key] = queue
			return
		}
	}
	queue = append(queue, d)
	sort.Slice(queue, func(i, j int) bool { return queue[i].version < queue[j].version })
	if len(queue) > s.opts.bufferSize {
		dropped := len(queue) - s.opts.bufferSize
		s.logger.Debug().Str("key", key).Int("dropped", dropped).Msg("delta buffer full, evicting oldest")
		queue = queue[dropped:]
	}
	s.pending[key] = queue
}

// replay applies buffered deltas newer than the snapshot just committed
func (s *Stream[T]) replay(key string) {
	queue := s.pending[key]
	delete(s.pending, key)

	for _, d := range queue {
		if last, seen := s.versions[key]; seen && d.version <= last {
			continue
		}
		if err := s.applyDelta(key, s.docs[key], d); err != nil {
			metrics.ContractViolationsTotal.WithLabelValues("inbound").Inc()
			s.logger.Warn().Err(err).Str("key", key).Uint64("version", d.version).Msg("dropping buffered delta")
			continue
		}
		metrics.EnvelopesTotal.WithLabelValues(s.name, string(ResultApplied)).Inc()
	}
}

func (s *Stream[T]) violation(subj, reason string, err error) error {
	return &contract.ContractViolation{Subject: subj, Reason: reason, Err: err}
}
