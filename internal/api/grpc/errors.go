package grpcapi

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"conversation-transcriber-service/internal/conversation"
	"conversation-transcriber-service/internal/service/audio"
	"conversation-transcriber-service/internal/service/session"
	"conversation-transcriber-service/internal/service/transcriber"
)

// codeOf maps a service error to the status code reported to clients.
func codeOf(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, ErrInvalidMessage),
		errors.Is(err, conversation.ErrMalformedVoiceSignature),
		errors.Is(err, conversation.ErrInvalidParticipant),
		errors.Is(err, conversation.ErrInvalidConversationID),
		errors.Is(err, audio.ErrUnknownProperty):
		return codes.InvalidArgument
	case errors.Is(err, conversation.ErrDuplicateParticipant),
		errors.Is(err, conversation.ErrParticipantAttached),
		errors.Is(err, transcriber.ErrAlreadyJoined):
		return codes.AlreadyExists
	case errors.Is(err, conversation.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, session.ErrOverflow):
		return codes.ResourceExhausted
	case errors.Is(err, session.ErrStopTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, session.ErrCanceled),
		errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, session.ErrInvalidState),
		errors.Is(err, transcriber.ErrNotJoined),
		errors.Is(err, conversation.ErrConversationClosed),
		errors.Is(err, audio.ErrNotAttached),
		errors.Is(err, audio.ErrClosed):
		return codes.FailedPrecondition
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	return codes.Internal
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(codeOf(err), err.Error())
}
