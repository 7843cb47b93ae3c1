package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"conversation-transcriber-service/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorCode
	}{
		{"nil", nil, models.NoError},
		{"deadline", fmt.Errorf("recv: %w", context.DeadlineExceeded), models.ServiceTimeout},
		{"unauthenticated", status.Error(codes.Unauthenticated, "bad key"), models.AuthenticationFailure},
		{"permission denied", status.Error(codes.PermissionDenied, "no"), models.AuthenticationFailure},
		{"invalid argument", status.Error(codes.InvalidArgument, "bad rate"), models.BadRequest},
		{"unavailable", status.Error(codes.Unavailable, "down"), models.ConnectionFailure},
		{"grpc deadline", status.Error(codes.DeadlineExceeded, "slow"), models.ServiceTimeout},
		{"internal", status.Error(codes.Internal, "boom"), models.ServiceError},
		{"unexpected eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), models.ConnectionFailure},
		{"connection reset", fmt.Errorf("write: %w", syscall.ECONNRESET), models.ConnectionFailure},
		{"other", errors.New("something else"), models.RuntimeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestState(t *testing.T) {
	for _, s := range []State{StateIdle, StateStarting, StateRunning, StateStopping} {
		require.False(t, s.IsTerminal(), s.String())
	}
	require.True(t, StateStopped.IsTerminal())
	require.True(t, StateCanceled.IsTerminal())
	require.Equal(t, "RUNNING", StateRunning.String())
	require.Equal(t, "UNKNOWN(42)", State(42).String())
}

func TestCanceledError(t *testing.T) {
	cause := status.Error(codes.Unauthenticated, "bad key")
	err := error(&CanceledError{Reason: models.CancelError, Code: models.AuthenticationFailure, Err: cause})

	require.ErrorIs(t, err, ErrCanceled)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "bad key")

	bare := &CanceledError{Reason: models.CancelUserRequested}
	require.ErrorIs(t, bare, ErrCanceled)
	require.NoError(t, bare.Unwrap())
}
