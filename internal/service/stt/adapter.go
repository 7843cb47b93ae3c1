// Package stt defines the contract between a transcription session and the
// speech recognition backend it streams audio to.
package stt

import "context"

// Callback receives recognition results. Implementations must tolerate
// calls from the goroutine that invoked SendAudio or Close as well as from
// a provider's receive goroutine.
type Callback interface {
	// OnPartial delivers an interim hypothesis for the current utterance.
	OnPartial(text string)

	// OnFinal delivers the final result for the current utterance.
	OnFinal(text string, confidence float64)

	// OnNoMatch reports that the current utterance produced no recognizable speech.
	OnNoMatch()

	// OnEndOfUtterance marks the boundary after which results belong to a new utterance.
	OnEndOfUtterance()

	// OnError reports a failure of the recognition stream. No results follow it.
	OnError(err error)
}

// Adapter is a streaming recognizer (Google, a simulated backend, ...).
type Adapter interface {
	// Start opens the stream. Results are delivered to cb.
	Start(ctx context.Context, cb Callback) error

	// SendAudio streams raw audio bytes.
	SendAudio(ctx context.Context, audio []byte) error

	// Close half-closes the stream and returns once pending results have
	// been delivered.
	Close() error
}

// Factory creates one adapter per session.
type Factory func(ctx context.Context) (Adapter, error)
