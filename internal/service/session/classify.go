package session

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"conversation-transcriber-service/internal/models"
)

// Classify maps a recognizer failure to a cancellation error code.
func Classify(err error) models.ErrorCode {
	if err == nil {
		return models.NoError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ServiceTimeout
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unauthenticated, codes.PermissionDenied:
			return models.AuthenticationFailure
		case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange, codes.Unimplemented, codes.NotFound:
			return models.BadRequest
		case codes.Unavailable:
			return models.ConnectionFailure
		case codes.DeadlineExceeded:
			return models.ServiceTimeout
		case codes.Internal, codes.ResourceExhausted, codes.Aborted, codes.DataLoss:
			return models.ServiceError
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return models.ConnectionFailure
	}
	return models.RuntimeError
}
