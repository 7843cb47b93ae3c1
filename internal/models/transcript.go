// Package models defines the transcription events emitted by a session and
// their wire form.
package models

import (
	"fmt"
	"time"
)

// Unidentified is the speaker id used when no participant could be attributed.
const Unidentified = "Unidentified"

// EventKind identifies what a TranscriptionEvent reports.
type EventKind int

const (
	EventSessionStarted EventKind = iota
	EventTranscribing
	EventTranscribed
	EventCanceled
	EventSessionStopped
)

func (k EventKind) String() string {
	switch k {
	case EventSessionStarted:
		return "SessionStarted"
	case EventTranscribing:
		return "Transcribing"
	case EventTranscribed:
		return "Transcribed"
	case EventCanceled:
		return "Canceled"
	case EventSessionStopped:
		return "SessionStopped"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// IsTerminal reports whether no event may follow one of this kind.
func (k EventKind) IsTerminal() bool {
	return k == EventCanceled || k == EventSessionStopped
}

// ResultReason qualifies a recognition result.
type ResultReason int

const (
	ReasonNone ResultReason = iota
	ReasonRecognizingSpeech
	ReasonRecognizedSpeech
	ReasonNoMatch
	ReasonCanceled
)

func (r ResultReason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonRecognizingSpeech:
		return "RecognizingSpeech"
	case ReasonRecognizedSpeech:
		return "RecognizedSpeech"
	case ReasonNoMatch:
		return "NoMatch"
	case ReasonCanceled:
		return "Canceled"
	default:
		return fmt.Sprintf("ResultReason(%d)", int(r))
	}
}

// CancellationReason says why a session was canceled.
type CancellationReason int

const (
	CancelError CancellationReason = iota
	CancelEndOfStream
	CancelUserRequested
	CancelTimeout
)

func (r CancellationReason) String() string {
	switch r {
	case CancelError:
		return "Error"
	case CancelEndOfStream:
		return "EndOfStream"
	case CancelUserRequested:
		return "UserRequested"
	case CancelTimeout:
		return "Timeout"
	default:
		return fmt.Sprintf("CancellationReason(%d)", int(r))
	}
}

// ErrorCode classifies the upstream failure behind a cancellation.
type ErrorCode int

const (
	NoError ErrorCode = iota
	AuthenticationFailure
	BadRequest
	ConnectionFailure
	ServiceTimeout
	ServiceError
	RuntimeError
)

func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "NoError"
	case AuthenticationFailure:
		return "AuthenticationFailure"
	case BadRequest:
		return "BadRequest"
	case ConnectionFailure:
		return "ConnectionFailure"
	case ServiceTimeout:
		return "ServiceTimeout"
	case ServiceError:
		return "ServiceError"
	case RuntimeError:
		return "RuntimeError"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// CancellationDetails is set on Canceled events.
type CancellationDetails struct {
	Reason  CancellationReason
	Code    ErrorCode
	Details string
}

// TranscriptionEvent is one entry of a session's ordered event stream.
type TranscriptionEvent struct {
	Kind           EventKind
	Sequence       uint64
	SessionID      string
	ConversationID string
	ResultID       string
	SpeakerID      string
	Text           string
	Reason         ResultReason
	Offset         time.Duration
	Duration       time.Duration
	Confidence     float64
	Cancellation   *CancellationDetails
	Time           time.Time
}

// Wire event types.
const (
	EventTypeSessionStarted = "session_started"
	EventTypePartial        = "partial"
	EventTypeFinal          = "final"
	EventTypeCanceled       = "canceled"
	EventTypeSessionStopped = "session_stopped"
)

// TranscriptEvent is the JSON form published to sinks and streamed to RPC clients.
type TranscriptEvent struct {
	EventType      string  `json:"eventType" validate:"required,oneof=session_started partial final canceled session_stopped"`
	ConversationID string  `json:"conversationId" validate:"required"`
	SessionID      string  `json:"sessionId" validate:"required"`
	Sequence       uint64  `json:"sequence"`
	Timestamp      int64   `json:"timestamp" validate:"required"`
	SegmentID      string  `json:"segmentId,omitempty"`
	SpeakerID      string  `json:"speakerId,omitempty"`
	Text           string  `json:"text,omitempty"`
	Reason         string  `json:"reason,omitempty"`
	Confidence     float64 `json:"confidence,omitempty" validate:"gte=0,lte=1"`
	AudioOffsetMs  int64   `json:"audioOffsetMs" validate:"gte=0"`
	DurationMs     int64   `json:"durationMs,omitempty" validate:"gte=0"`

	CancellationReason string `json:"cancellationReason,omitempty"`
	ErrorCode          string `json:"errorCode,omitempty"`
	ErrorDetails       string `json:"errorDetails,omitempty"`
}

// WireType maps an event kind to its wire event type.
func WireType(k EventKind) string {
	switch k {
	case EventSessionStarted:
		return EventTypeSessionStarted
	case EventTranscribing:
		return EventTypePartial
	case EventTranscribed:
		return EventTypeFinal
	case EventCanceled:
		return EventTypeCanceled
	case EventSessionStopped:
		return EventTypeSessionStopped
	default:
		return ""
	}
}

// Wire converts the event to its JSON form.
func (e TranscriptionEvent) Wire() TranscriptEvent {
	w := TranscriptEvent{
		EventType:      WireType(e.Kind),
		ConversationID: e.ConversationID,
		SessionID:      e.SessionID,
		Sequence:       e.Sequence,
		Timestamp:      e.Time.UnixMilli(),
		SegmentID:      e.ResultID,
		SpeakerID:      e.SpeakerID,
		Text:           e.Text,
		Reason:         e.Reason.String(),
		Confidence:     e.Confidence,
		AudioOffsetMs:  e.Offset.Milliseconds(),
		DurationMs:     e.Duration.Milliseconds(),
	}
	if c := e.Cancellation; c != nil {
		w.CancellationReason = c.Reason.String()
		w.ErrorCode = c.Code.String()
		w.ErrorDetails = c.Details
	}
	return w
}
