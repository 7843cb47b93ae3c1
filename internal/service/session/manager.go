// Package session runs one transcription session: it owns the lifecycle
// state machine, the bounded audio queue and its worker, the recognizer
// stream, and the ordered stream of events the session emits.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"conversation-transcriber-service/internal/conversation"
	"conversation-transcriber-service/internal/models"
	"conversation-transcriber-service/internal/observability/logging"
	"conversation-transcriber-service/internal/observability/metrics"
	"conversation-transcriber-service/internal/service/attribution"
	"conversation-transcriber-service/internal/service/audio"
	"conversation-transcriber-service/internal/service/segment"
	"conversation-transcriber-service/internal/service/stt"
)

// Roster is the participant source consulted for every processed segment.
// *conversation.Conversation implements it.
type Roster interface {
	ID() string
	Participants() []*conversation.Participant
}

type Config struct {
	// QueueSize bounds the number of segments waiting for the worker.
	QueueSize int
	Format    audio.Format
	Limits    segment.Limits
}

func DefaultConfig() Config {
	return Config{
		QueueSize: 64,
		Format:    audio.DefaultFormat(),
		Limits:    segment.DefaultLimits(),
	}
}

// Manager is a single transcription session.
//
//	IDLE → STARTING → RUNNING → STOPPING → STOPPED
//	  └───────┴──────────┴─────────┴──→ CANCELED
//
// All transitions are committed under one mutex; a single worker goroutine
// consumes the audio queue.
type Manager struct {
	id         string
	roster     Roster
	adapter    stt.Adapter
	attributor *attribution.Attributor
	provider   string
	cfg        Config
	metrics    *metrics.Metrics
	log        zerolog.Logger

	events *emitter
	queue  chan audio.Segment
	done   chan struct{}
	finish sync.Once

	mu            sync.Mutex
	state         State
	ctx           context.Context
	cancel        context.CancelFunc
	started       bool
	workerRunning bool
	stopRequested bool
	canceled      *CanceledError
	startedAt     time.Time
	ids           *segment.IDGenerator
	utt           *segment.Utterance
	position      time.Duration
}

type Option func(*Manager)

// WithAttributor enables speaker attribution. Without it every result is
// attributed to models.Unidentified.
func WithAttributor(a *attribution.Attributor) Option {
	return func(m *Manager) { m.attributor = a }
}

// WithProvider names the recognizer backend in metrics.
func WithProvider(name string) Option {
	return func(m *Manager) { m.provider = name }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// New creates an idle session for roster, streaming to adapter.
func New(roster Roster, adapter stt.Adapter, cfg Config, opts ...Option) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.Format == (audio.Format{}) {
		cfg.Format = audio.DefaultFormat()
	}

	id := uuid.NewString()
	m := &Manager{
		id:       id,
		roster:   roster,
		adapter:  adapter,
		provider: "unknown",
		cfg:      cfg,
		queue:    make(chan audio.Segment, cfg.QueueSize),
		done:     make(chan struct{}),
		ids:      segment.NewIDGenerator(roster.ID()),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logging.WithStream(roster.ID(), id, m.provider)
	m.events = newEmitter(m.metrics)
	m.utt = segment.NewUtterance(m.ids.Next(), 0)
	return m
}

func (m *Manager) ID() string             { return m.id }
func (m *Manager) ConversationID() string { return m.roster.ID() }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the cancellation outcome, or nil if the session was not canceled.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.canceled == nil {
		return nil
	}
	return m.canceled
}

// Subscribe registers l for events emitted from now on.
func (m *Manager) Subscribe(l Listener) {
	m.events.subscribe(l)
}

// Done is closed once the terminal event has been delivered to all listeners.
func (m *Manager) Done() <-chan struct{} {
	return m.events.done()
}

// Start opens the recognizer stream. It is valid only in IDLE. If the
// recognizer cannot be started the session is canceled and the error returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle {
		st := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: start in %s", ErrInvalidState, st)
	}
	m.state = StateStarting
	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	sctx := m.ctx
	m.mu.Unlock()

	m.log.Debug().Msg("Starting recognizer")
	err := m.adapter.Start(sctx, m)

	m.mu.Lock()
	if err != nil {
		if !m.state.IsTerminal() {
			m.cancelLocked(models.CancelError, err)
		}
		m.mu.Unlock()
		m.log.Error().Err(err).Msg("Recognizer failed to start")
		if cerr := m.adapter.Close(); cerr != nil {
			m.log.Debug().Err(cerr).Msg("Closing recognizer after failed start")
		}
		return fmt.Errorf("start recognizer: %w", err)
	}
	if m.state == StateCanceled {
		ce := m.canceled
		m.mu.Unlock()
		_ = m.adapter.Close()
		return ce
	}

	m.started = true
	m.startedAt = time.Now()
	m.emitLocked(models.TranscriptionEvent{Kind: models.EventSessionStarted})
	m.workerRunning = true
	m.mu.Unlock()

	m.metrics.RecordSessionStart()
	m.log.Info().Msg("Session started")
	go m.run(sctx)
	return nil
}

// Feed queues a segment without blocking. It is valid in STARTING and
// RUNNING; the first accepted segment moves STARTING to RUNNING. A full
// queue yields ErrOverflow and leaves the queued segments untouched.
func (m *Manager) Feed(seg audio.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateStarting && m.state != StateRunning {
		return fmt.Errorf("%w: feed in %s", ErrInvalidState, m.state)
	}
	select {
	case m.queue <- seg:
	default:
		m.metrics.RecordOverflow()
		return ErrOverflow
	}
	if m.state == StateStarting {
		m.state = StateRunning
	}
	m.metrics.RecordAudioReceived(len(seg.Data))
	return nil
}

// Stop drains the queued audio, flushes the recognizer and emits
// SessionStopped. Stopping a stopped session is a no-op; a Stop racing
// another Stop waits for the same completion. If ctx ends first
// ErrStopTimeout is returned and the session keeps stopping.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateIdle:
		m.mu.Unlock()
		return fmt.Errorf("%w: stop in %s", ErrInvalidState, StateIdle)
	case StateCanceled:
		m.mu.Unlock()
		return fmt.Errorf("%w: stop in %s", ErrInvalidState, StateCanceled)
	case StateStopped:
		m.mu.Unlock()
		return nil
	case StateStarting, StateRunning:
		m.state = StateStopping
		m.stopRequested = true
		close(m.queue)
		m.log.Debug().Msg("Stopping session")
	}
	m.mu.Unlock()

	select {
	case <-m.done:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrStopTimeout, ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateStopped {
		return nil
	}
	return m.canceled
}

// Cancel ends the session immediately from any non-terminal state. Queued
// audio and unfinished results are discarded and exactly one Canceled
// event is emitted.
func (m *Manager) Cancel(reason models.CancellationReason, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.IsTerminal() {
		return fmt.Errorf("%w: cancel in %s", ErrInvalidState, m.state)
	}
	m.cancelLocked(reason, cause)
	return nil
}

// Close cancels a session that has not reached a terminal state.
func (m *Manager) Close() error {
	err := m.Cancel(models.CancelUserRequested, nil)
	if err != nil && m.State().IsTerminal() {
		return nil
	}
	return err
}

func (m *Manager) cancelLocked(reason models.CancellationReason, cause error) {
	code := Classify(cause)
	ce := &CanceledError{Reason: reason, Code: code, Err: cause}
	m.state = StateCanceled
	m.canceled = ce

	if m.utt.Partials() > 0 && m.utt.Drop() {
		m.metrics.RecordUtteranceDropped("canceled")
	}

	details := ""
	if cause != nil {
		details = cause.Error()
	}
	m.emitLocked(models.TranscriptionEvent{
		Kind:   models.EventCanceled,
		Reason: models.ReasonCanceled,
		Offset: m.position,
		Cancellation: &models.CancellationDetails{
			Reason:  reason,
			Code:    code,
			Details: details,
		},
	})

	if m.cancel != nil {
		m.cancel()
	}
	if !m.workerRunning {
		m.finishRun()
	}

	var dur time.Duration
	if m.started {
		dur = time.Since(m.startedAt)
	}
	m.metrics.RecordSessionCanceled(reason.String(), code.String(), m.started, dur.Seconds())

	ev := m.log.Info()
	if cause != nil {
		ev = m.log.Warn().Err(cause)
	}
	ev.Str("reason", reason.String()).Str("code", code.String()).Msg("Session canceled")
}

func (m *Manager) finishRun() {
	m.finish.Do(func() { close(m.done) })
}

// run is the session worker. It exits when the queue is closed by Stop or
// the session context is canceled.
func (m *Manager) run(ctx context.Context) {
	defer m.finishRun()

	for {
		select {
		case <-ctx.Done():
			m.abort()
			return
		case seg, ok := <-m.queue:
			if !ok {
				m.complete()
				return
			}
			if ctx.Err() != nil {
				m.abort()
				return
			}
			m.process(ctx, seg)
		}
	}
}

func (m *Manager) abort() {
	if err := m.adapter.Close(); err != nil {
		m.log.Debug().Err(err).Msg("Closing recognizer after cancel")
	}
}

// complete flushes the recognizer and commits STOPPED, unless the session
// was canceled meanwhile.
func (m *Manager) complete() {
	closeErr := m.adapter.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateStopping {
		return
	}
	if closeErr != nil {
		m.cancelLocked(models.CancelError, closeErr)
		return
	}

	if m.utt.Partials() > 0 && m.utt.Drop() {
		m.metrics.RecordUtteranceDropped("no_final")
	}
	m.state = StateStopped
	m.emitLocked(models.TranscriptionEvent{Kind: models.EventSessionStopped, Offset: m.position})

	dur := time.Since(m.startedAt)
	m.metrics.RecordSessionStopped(dur.Seconds())
	m.log.Info().
		Dur("duration", dur).
		Uint64("utterances", m.ids.Issued()-1).
		Msg("Session stopped")
}

func (m *Manager) process(ctx context.Context, seg audio.Segment) {
	speaker := ""
	if m.attributor != nil {
		r := m.attributor.Attribute(seg, m.cfg.Format, m.roster.Participants())
		if r.SpeakerID != models.Unidentified {
			speaker = r.SpeakerID
		}
	}

	m.mu.Lock()
	if m.state.IsTerminal() {
		m.mu.Unlock()
		return
	}
	m.utt.Observe(seg.Offset, seg.Duration, len(seg.Data), speaker)
	if reason, over := m.utt.Exceeds(m.cfg.Limits); over {
		if m.utt.Partials() > 0 {
			m.dropUtteranceLocked("limit", reason)
		} else {
			// Nothing recognized yet: restart the window at this segment.
			m.rotateLocked()
			m.utt.Observe(seg.Offset, seg.Duration, len(seg.Data), speaker)
		}
	}
	if end := seg.End(); end > m.position {
		m.position = end
	}
	m.mu.Unlock()

	if err := m.adapter.SendAudio(ctx, seg.Data); err != nil && ctx.Err() == nil {
		m.log.Error().Err(err).Uint64("sequence", seg.Sequence).Msg("Failed to send audio")
		_ = m.Cancel(models.CancelError, err)
	}
}

func (m *Manager) emitLocked(ev models.TranscriptionEvent) {
	ev.SessionID = m.id
	ev.ConversationID = m.roster.ID()
	m.events.emit(ev)
}
