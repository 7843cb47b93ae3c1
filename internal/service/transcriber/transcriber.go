// Package transcriber binds an audio input and a conversation to
// transcription sessions. It is the entry point used by the RPC surface
// and the command line tools.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"conversation-transcriber-service/internal/conversation"
	"conversation-transcriber-service/internal/models"
	"conversation-transcriber-service/internal/observability/logging"
	"conversation-transcriber-service/internal/observability/metrics"
	"conversation-transcriber-service/internal/service/attribution"
	"conversation-transcriber-service/internal/service/audio"
	"conversation-transcriber-service/internal/service/session"
	"conversation-transcriber-service/internal/service/stt"
	"conversation-transcriber-service/internal/speechconfig"
)

var (
	ErrAlreadyJoined = errors.New("transcriber already joined a conversation")
	ErrNotJoined     = errors.New("transcriber has not joined a conversation")
)

// DefaultStopTimeout bounds StopTranscribing when no timeout is configured.
const DefaultStopTimeout = 10 * time.Second

type Config struct {
	Session session.Config

	// StopTimeout bounds StopTranscribing. A session that does not stop in
	// time is canceled with reason Timeout.
	StopTimeout time.Duration

	// Provider names the recognizer backend in metrics and logs.
	Provider string
}

func DefaultConfig() Config {
	return Config{
		Session:     session.DefaultConfig(),
		StopTimeout: DefaultStopTimeout,
		Provider:    "mock",
	}
}

// Input is the audio source of a transcriber: either a stream the caller
// writes to or a reader the transcriber pulls from.
type Input struct {
	push *audio.PushStream
	pull *audio.PullStream
}

func PushInput(s *audio.PushStream) Input { return Input{push: s} }
func PullInput(s *audio.PullStream) Input { return Input{pull: s} }

func (in Input) format() audio.Format {
	switch {
	case in.push != nil:
		return in.push.Format()
	case in.pull != nil:
		return in.pull.Format()
	}
	return audio.DefaultFormat()
}

// Transcriber drives one session at a time over a fixed audio input.
type Transcriber struct {
	input      Input
	factory    stt.Factory
	cfg        Config
	attributor *attribution.Attributor
	metrics    *metrics.Metrics
	log        zerolog.Logger

	mu        sync.Mutex
	conv      *conversation.Conversation
	sess      *session.Manager
	starting  bool
	listeners []session.Listener
	pump      sync.WaitGroup
}

type Option func(*Transcriber)

func WithConfig(cfg Config) Option {
	return func(t *Transcriber) { t.cfg = cfg }
}

func WithAttributor(a *attribution.Attributor) Option {
	return func(t *Transcriber) { t.attributor = a }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transcriber) { t.metrics = m }
}

// New creates a transcriber reading from input. factory opens one
// recognizer stream per session.
func New(input Input, factory stt.Factory, opts ...Option) *Transcriber {
	t := &Transcriber{
		input:   input,
		factory: factory,
		cfg:     DefaultConfig(),
		log:     logging.WithComponent("transcriber"),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.cfg.StopTimeout <= 0 {
		t.cfg.StopTimeout = DefaultStopTimeout
	}
	return t
}

// JoinConversation binds the transcriber to conv. A transcriber joins at
// most one conversation until it leaves.
func (t *Transcriber) JoinConversation(_ context.Context, conv *conversation.Conversation) error {
	if conv == nil {
		return fmt.Errorf("%w: nil conversation", ErrNotJoined)
	}
	if conv.Closed() {
		return conversation.ErrConversationClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conv != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyJoined, t.conv.ID())
	}
	t.conv = conv
	t.sess = nil
	t.log.Info().Str("conversationId", conv.ID()).Msg("Joined conversation")
	return nil
}

// LeaveConversation stops an active session and unbinds the conversation.
func (t *Transcriber) LeaveConversation(ctx context.Context) error {
	t.mu.Lock()
	conv, sess := t.conv, t.sess
	t.mu.Unlock()
	if conv == nil {
		return ErrNotJoined
	}

	var err error
	if sess != nil && !sess.State().IsTerminal() {
		err = t.StopTranscribing(ctx)
	}

	t.mu.Lock()
	t.conv = nil
	t.sess = nil
	t.mu.Unlock()
	t.log.Info().Str("conversationId", conv.ID()).Msg("Left conversation")
	return err
}

// StartTranscribing opens a new session and starts feeding it audio.
func (t *Transcriber) StartTranscribing(ctx context.Context) error {
	t.mu.Lock()
	if t.conv == nil {
		t.mu.Unlock()
		return ErrNotJoined
	}
	if t.starting {
		t.mu.Unlock()
		return fmt.Errorf("%w: already starting", session.ErrInvalidState)
	}
	if t.sess != nil && !t.sess.State().IsTerminal() {
		st := t.sess.State()
		t.mu.Unlock()
		return fmt.Errorf("%w: already transcribing (%s)", session.ErrInvalidState, st)
	}
	t.starting = true
	conv := t.conv
	listeners := append([]session.Listener(nil), t.listeners...)
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.starting = false
		t.mu.Unlock()
	}()

	adapter, err := t.factory(ctx)
	if err != nil {
		t.metrics.RecordSTTError(t.cfg.Provider, session.Classify(err).String())
		return fmt.Errorf("create recognizer: %w", err)
	}

	cfg := t.cfg.Session
	cfg.Format = t.input.format()
	opts := []session.Option{session.WithMetrics(t.metrics), session.WithProvider(t.cfg.Provider)}
	if t.attributor != nil {
		opts = append(opts, session.WithAttributor(t.attributor))
	}
	sess := session.New(conv, adapter, cfg, opts...)
	for _, l := range listeners {
		sess.Subscribe(l)
	}

	t.mu.Lock()
	t.sess = sess
	t.mu.Unlock()

	if err := sess.Start(ctx); err != nil {
		return err
	}

	switch {
	case t.input.push != nil:
		if err := t.input.push.Attach(&sink{t: t, sess: sess}); err != nil {
			_ = sess.Cancel(models.CancelEndOfStream, err)
			return fmt.Errorf("attach audio input: %w", err)
		}
	case t.input.pull != nil:
		t.pump.Add(1)
		go t.runPump(sess)
	}
	return nil
}

// StopTranscribing stops the current session, waiting at most the
// configured StopTimeout (or ctx). A session that does not stop in time is
// canceled with reason Timeout and the timeout error is returned.
func (t *Transcriber) StopTranscribing(ctx context.Context) error {
	t.mu.Lock()
	if t.conv == nil {
		t.mu.Unlock()
		return ErrNotJoined
	}
	sess := t.sess
	t.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("%w: not transcribing", session.ErrInvalidState)
	}

	if t.input.push != nil {
		t.input.push.Detach()
	}
	return t.stopSession(ctx, sess)
}

func (t *Transcriber) stopSession(ctx context.Context, sess *session.Manager) error {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.StopTimeout)
	defer cancel()

	err := sess.Stop(ctx)
	if errors.Is(err, session.ErrStopTimeout) {
		t.log.Warn().Str("sessionId", sess.ID()).Dur("timeout", t.cfg.StopTimeout).Msg("Session did not stop in time, canceling")
		if cerr := sess.Cancel(models.CancelTimeout, err); cerr != nil {
			t.log.Debug().Err(cerr).Msg("Session ended while canceling")
		}
	}
	return err
}

// Cancel cancels the current session.
func (t *Transcriber) Cancel() error {
	t.mu.Lock()
	sess := t.sess
	t.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("%w: not transcribing", session.ErrInvalidState)
	}
	if t.input.push != nil {
		t.input.push.Detach()
	}
	return sess.Cancel(models.CancelUserRequested, nil)
}

// Close cancels any active session and waits for the audio pump to exit.
// A pump blocked inside the pull reader is not waited on for longer than
// StopTimeout; it exits once the reader returns. Callers owning an
// unbounded reader should close it after Close.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	sess := t.sess
	t.mu.Unlock()
	var err error
	if sess != nil {
		err = sess.Close()
	}

	pumped := make(chan struct{})
	go func() {
		t.pump.Wait()
		close(pumped)
	}()
	select {
	case <-pumped:
	case <-time.After(t.cfg.StopTimeout):
		t.log.Warn().Dur("timeout", t.cfg.StopTimeout).Msg("Audio input still blocked in read, not waiting for it")
	}
	return err
}

// Subscribe registers l with the current session and every later one.
func (t *Transcriber) Subscribe(l session.Listener) {
	t.mu.Lock()
	t.listeners = append(t.listeners, l)
	sess := t.sess
	t.mu.Unlock()
	if sess != nil {
		sess.Subscribe(l)
	}
}

// AddParticipant adds p to the joined conversation. It is allowed while
// transcribing; attribution uses it from the next processed segment.
func (t *Transcriber) AddParticipant(p *conversation.Participant) error {
	conv, err := t.conversation()
	if err != nil {
		return err
	}
	return conv.AddParticipant(p)
}

func (t *Transcriber) RemoveParticipant(id string) error {
	conv, err := t.conversation()
	if err != nil {
		return err
	}
	return conv.RemoveParticipant(id)
}

// Properties returns the conversation's speech properties together with
// the connection URL and the configured recognition language.
func (t *Transcriber) Properties() (map[string]string, error) {
	conv, err := t.conversation()
	if err != nil {
		return nil, err
	}
	cfg := conv.Config()
	url, err := cfg.ConnectionURL(conv.ID())
	if err != nil {
		return nil, err
	}

	props := cfg.Properties()
	if props == nil {
		props = make(map[string]string)
	}
	props[speechconfig.PropertyConnectionURL] = url
	props[speechconfig.PropertyRecoLanguage] = cfg.Language()
	return props, nil
}

// Session returns the current or most recent session, if any.
func (t *Transcriber) Session() *session.Manager {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sess
}

func (t *Transcriber) Conversation() *conversation.Conversation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conv
}

func (t *Transcriber) conversation() (*conversation.Conversation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conv == nil {
		return nil, ErrNotJoined
	}
	return t.conv, nil
}
