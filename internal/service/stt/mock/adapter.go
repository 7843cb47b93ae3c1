// Package mock provides a simulated recognizer for tests and for running
// the service without cloud credentials. Each audio frame advances a script
// of utterances: one partial per frame, then the final and an utterance
// boundary. Callbacks run synchronously on the caller's goroutine.
package mock

import (
	"context"
	"errors"
	"sync"

	"conversation-transcriber-service/internal/service/stt"
)

// SimulatedUtterance is one scripted utterance. An empty Final simulates
// audio with no recognizable speech.
type SimulatedUtterance struct {
	Partials   []string
	Final      string
	Confidence float64
}

// DefaultUtterances follows the meeting used by the end-to-end scenarios.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"Good morning", "Good morning Steve"},
		Final:      "Good morning Steve.",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"Good morning", "Good morning Katie"},
		Final:      "Good morning Katie.",
		Confidence: 0.95,
	},
	{
		Partials:   []string{"Have you", "Have you tried", "Have you tried the new"},
		Final:      "Have you tried the latest real time diarization in Microsoft speech SDK?",
		Confidence: 0.89,
	},
	{
		Partials:   []string{"Yes", "Yes I've", "Yes I've tried"},
		Final:      "Yes, I've tried it and it's working great.",
		Confidence: 0.91,
	},
}

var ErrClosed = errors.New("mock recognizer closed")

// Adapter implements stt.Adapter with scripted results.
type Adapter struct {
	mu        sync.Mutex
	cb        stt.Callback
	script    []SimulatedUtterance
	loop      bool
	current   int
	partial   int
	started   bool
	closed    bool
	frames    int
	startErr  error
	failAfter int
	failErr   error
	failed    bool
}

type Option func(*Adapter)

// WithUtterances replaces the default script.
func WithUtterances(u ...SimulatedUtterance) Option {
	return func(a *Adapter) { a.script = u }
}

// WithLoop restarts the script once it is exhausted instead of going silent.
func WithLoop() Option {
	return func(a *Adapter) { a.loop = true }
}

// WithStartError makes Start fail with err.
func WithStartError(err error) Option {
	return func(a *Adapter) { a.startErr = err }
}

// WithFailureAfter reports err through OnError when the n-th frame arrives.
func WithFailureAfter(n int, err error) Option {
	return func(a *Adapter) {
		a.failAfter = n
		a.failErr = err
	}
}

func New(opts ...Option) *Adapter {
	a := &Adapter{script: DefaultUtterances}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Factory returns an stt.Factory producing adapters built with opts.
func Factory(opts ...Option) stt.Factory {
	return func(context.Context) (stt.Adapter, error) {
		return New(opts...), nil
	}
}

func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startErr != nil {
		return a.startErr
	}
	a.cb = cb
	a.started = true
	return nil
}

// SendAudio advances the script by one step.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if !a.started || a.failed {
		a.mu.Unlock()
		return nil
	}
	a.frames++
	cb := a.cb

	if a.failAfter > 0 && a.frames == a.failAfter {
		a.failed = true
		err := a.failErr
		a.mu.Unlock()
		cb.OnError(err)
		return nil
	}

	utt, ok := a.currentUtterance()
	if !ok {
		a.mu.Unlock()
		return nil
	}
	if a.partial < len(utt.Partials) {
		text := utt.Partials[a.partial]
		a.partial++
		a.mu.Unlock()
		cb.OnPartial(text)
		return nil
	}
	a.advance()
	a.mu.Unlock()

	deliverFinal(cb, utt)
	cb.OnEndOfUtterance()
	return nil
}

// Close flushes an utterance that has started but not finished.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	cb := a.cb
	utt, ok := a.currentUtterance()
	flush := ok && a.partial > 0 && !a.failed
	a.mu.Unlock()

	if flush && cb != nil {
		deliverFinal(cb, utt)
	}
	return nil
}

// Frames returns the number of audio frames received.
func (a *Adapter) Frames() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames
}

func (a *Adapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Adapter) currentUtterance() (SimulatedUtterance, bool) {
	if len(a.script) == 0 || a.current >= len(a.script) {
		return SimulatedUtterance{}, false
	}
	return a.script[a.current], true
}

func (a *Adapter) advance() {
	a.partial = 0
	a.current++
	if a.loop && a.current >= len(a.script) {
		a.current = 0
	}
}

func deliverFinal(cb stt.Callback, utt SimulatedUtterance) {
	if utt.Final == "" {
		cb.OnNoMatch()
		return
	}
	cb.OnFinal(utt.Final, utt.Confidence)
}
