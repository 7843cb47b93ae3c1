// Package segment tracks the lifecycle of a single recognized utterance:
// the partial results leading up to it, its single final result, and the
// audio it covers.
package segment

import (
	"errors"
	"fmt"
	"time"
)

// State represents the lifecycle state of an utterance.
type State int

const (
	// StateOpen: partials may be emitted, the final has not been.
	StateOpen State = iota
	// StateFinalEmitted: the final went out; nothing else may be emitted.
	StateFinalEmitted
	// StateClosed: the utterance ended normally.
	StateClosed
	// StateDropped: the utterance was abandoned without a final.
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateFinalEmitted:
		return "FINAL_EMITTED"
	case StateClosed:
		return "CLOSED"
	case StateDropped:
		return "DROPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateDropped
}

var (
	ErrUtteranceClosed             = errors.New("utterance is closed")
	ErrFinalAlreadyEmitted         = errors.New("final already emitted for this utterance")
	ErrCannotEmitPartialAfterFinal = errors.New("cannot emit partial after final")
)

// Limits bound the resources a single utterance may use. Zero disables a limit.
type Limits struct {
	MaxAudioBytes int64         `yaml:"maxAudioBytes"`
	MaxDuration   time.Duration `yaml:"maxDuration"`
	MaxPartials   int           `yaml:"maxPartials"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxAudioBytes: 5 * 1024 * 1024,
		MaxDuration:   5 * time.Minute,
		MaxPartials:   500,
	}
}

// Utterance is the state machine for one recognized utterance.
//
//	OPEN ──Partial()*──▶ OPEN ──Final()──▶ FINAL_EMITTED ──Close()──▶ CLOSED
//	  └──────────────── Drop() ────────────────▶ DROPPED
//
// Not safe for concurrent use; the owning session serializes access.
type Utterance struct {
	id    string
	state State

	start    time.Duration
	end      time.Duration
	hasAudio bool
	bytes    int64
	partials int
	speaker  string
}

// NewUtterance opens an utterance that starts at the given stream offset.
func NewUtterance(id string, start time.Duration) *Utterance {
	return &Utterance{id: id, start: start, end: start}
}

func (u *Utterance) ID() string   { return u.id }
func (u *Utterance) State() State { return u.state }

// Start is the stream offset of the first audio the utterance covers.
func (u *Utterance) Start() time.Duration { return u.start }

// Duration is the span between the first and last audio observed.
func (u *Utterance) Duration() time.Duration { return u.end - u.start }

// Speaker is the speaker of the most recent attributed audio.
func (u *Utterance) Speaker() string { return u.speaker }

func (u *Utterance) Partials() int { return u.partials }

func (u *Utterance) IsDropped() bool { return u.state == StateDropped }

// Observe records audio covering [offset, offset+d) attributed to speaker.
// An empty speaker leaves the previous attribution in place.
func (u *Utterance) Observe(offset, d time.Duration, n int, speaker string) {
	if u.state != StateOpen {
		return
	}
	if !u.hasAudio {
		u.start = offset
		u.hasAudio = true
	}
	if end := offset + d; end > u.end {
		u.end = end
	}
	u.bytes += int64(n)
	if speaker != "" {
		u.speaker = speaker
	}
}

// Partial validates and records a partial emission.
func (u *Utterance) Partial() error {
	switch u.state {
	case StateOpen:
		u.partials++
		return nil
	case StateFinalEmitted:
		return ErrCannotEmitPartialAfterFinal
	default:
		return ErrUtteranceClosed
	}
}

// Final validates the final emission and moves to FINAL_EMITTED.
func (u *Utterance) Final() error {
	switch u.state {
	case StateOpen:
		u.state = StateFinalEmitted
		return nil
	case StateFinalEmitted:
		return ErrFinalAlreadyEmitted
	default:
		return ErrUtteranceClosed
	}
}

// Close ends the utterance. A dropped utterance stays dropped.
func (u *Utterance) Close() {
	if u.state != StateDropped {
		u.state = StateClosed
	}
}

// Drop abandons the utterance. It reports false if it had already ended.
func (u *Utterance) Drop() bool {
	if u.state.IsTerminal() || u.state == StateFinalEmitted {
		return false
	}
	u.state = StateDropped
	return true
}

// Exceeds reports the first limit the utterance has gone past.
func (u *Utterance) Exceeds(l Limits) (string, bool) {
	switch {
	case l.MaxAudioBytes > 0 && u.bytes > l.MaxAudioBytes:
		return fmt.Sprintf("max audio bytes exceeded: %d > %d", u.bytes, l.MaxAudioBytes), true
	case l.MaxDuration > 0 && u.Duration() > l.MaxDuration:
		return fmt.Sprintf("max duration exceeded: %v > %v", u.Duration(), l.MaxDuration), true
	case l.MaxPartials > 0 && u.partials > l.MaxPartials:
		return fmt.Sprintf("max partials exceeded: %d > %d", u.partials, l.MaxPartials), true
	}
	return "", false
}
