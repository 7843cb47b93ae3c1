package grpcapi

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"google.golang.org/protobuf/types/known/structpb"

	"conversation-transcriber-service/internal/models"
	"conversation-transcriber-service/internal/schema"
	"conversation-transcriber-service/internal/service/audio"
)

// ErrInvalidMessage is returned for stream messages that do not decode or
// fail validation.
var ErrInvalidMessage = errors.New("invalid stream message")

// Control actions.
const (
	ActionStop              = "stop"
	ActionCancel            = "cancel"
	ActionAddParticipant    = "addParticipant"
	ActionRemoveParticipant = "removeParticipant"
)

// ClientMessage is one message of the client side of Transcribe. Exactly
// one field is set; the first message of a stream must carry Config.
type ClientMessage struct {
	Config  *SessionConfig `json:"config,omitempty"`
	Audio   *AudioChunk    `json:"audio,omitempty"`
	Control *Control       `json:"control,omitempty"`
}

// SessionConfig opens a conversation on the server.
type SessionConfig struct {
	// ConversationID may be empty, in which case the server generates one.
	ConversationID string            `json:"conversationId"`
	Language       string            `json:"language,omitempty"`
	OutputFormat   string            `json:"outputFormat,omitempty" validate:"omitempty,oneof=simple detailed"`
	Properties     map[string]string `json:"properties,omitempty"`
	Participants   []ParticipantSpec `json:"participants,omitempty" validate:"dive"`
	Format         *AudioFormat      `json:"format,omitempty"`
}

type ParticipantSpec struct {
	UserID   string `json:"userId" validate:"required"`
	Language string `json:"language,omitempty"`
	// Signature is a voice signature JSON document.
	Signature string `json:"signature,omitempty"`
}

type AudioFormat struct {
	SampleRate    int `json:"sampleRate" validate:"gt=0"`
	BitsPerSample int `json:"bitsPerSample" validate:"gt=0"`
	Channels      int `json:"channels" validate:"gt=0"`
}

func (f *AudioFormat) format() audio.Format {
	if f == nil {
		return audio.DefaultFormat()
	}
	return audio.Format{SampleRate: f.SampleRate, BitsPerSample: f.BitsPerSample, Channels: f.Channels}
}

// AudioChunk carries PCM bytes. SpeakerID optionally names the participant
// speaking in this chunk.
type AudioChunk struct {
	Data      []byte `json:"data" validate:"required"`
	SpeakerID string `json:"speakerId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type Control struct {
	Action      string           `json:"action" validate:"required,oneof=stop cancel addParticipant removeParticipant"`
	Participant *ParticipantSpec `json:"participant,omitempty" validate:"required_if=Action addParticipant"`
	UserID      string           `json:"userId,omitempty" validate:"required_if=Action removeParticipant"`
}

// ServerMessage is one message of the server side of Transcribe: either a
// transcription event or a notice about a rejected client request. The
// stream ends after the session's terminal event.
type ServerMessage struct {
	Event *models.TranscriptEvent `json:"event,omitempty"`
	Error *ErrorNotice            `json:"error,omitempty"`
}

// ErrorNotice reports a failed request without ending the stream.
type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Terminal reports whether m carries the last event of the session.
func (m *ServerMessage) Terminal() bool {
	if m == nil || m.Event == nil {
		return false
	}
	switch m.Event.EventType {
	case models.EventTypeCanceled, models.EventTypeSessionStopped:
		return true
	}
	return false
}

func decodeClientMessage(s *structpb.Struct) (*ClientMessage, error) {
	var msg ClientMessage
	if err := fromStruct(s, &msg); err != nil {
		return nil, err
	}

	set := 0
	for _, ok := range []bool{msg.Config != nil, msg.Audio != nil, msg.Control != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: expected exactly one of config, audio, control", ErrInvalidMessage)
	}

	var target any
	switch {
	case msg.Config != nil:
		target = msg.Config
	case msg.Audio != nil:
		target = msg.Audio
	default:
		target = msg.Control
	}
	if err := schema.Validate(target); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return &msg, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, v any) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}
