package conversation

import "errors"

var (
	ErrDuplicateParticipant    = errors.New("participant already in conversation")
	ErrNotFound                = errors.New("participant not found")
	ErrMalformedVoiceSignature = errors.New("malformed voice signature")
	ErrParticipantAttached     = errors.New("participant is attached to another conversation")
	ErrConversationClosed      = errors.New("conversation is closed")
	ErrInvalidConversationID   = errors.New("invalid conversation id")
	ErrInvalidParticipant      = errors.New("invalid participant")
)
