package session

import (
	"errors"
	"fmt"

	"conversation-transcriber-service/internal/models"
)

// State is the lifecycle state of a session.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	case StateCanceled:
		return "CANCELED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true for STOPPED and CANCELED.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateCanceled
}

var (
	ErrInvalidState = errors.New("operation not valid in current session state")
	ErrOverflow     = errors.New("session audio queue is full")
	ErrStopTimeout  = errors.New("session did not stop in time")
	ErrCanceled     = errors.New("session canceled")
)

// CanceledError is the terminal outcome of a canceled session.
type CanceledError struct {
	Reason models.CancellationReason
	Code   models.ErrorCode
	Err    error
}

func (e *CanceledError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session canceled (%s, %s): %v", e.Reason, e.Code, e.Err)
	}
	return fmt.Sprintf("session canceled (%s)", e.Reason)
}

func (e *CanceledError) Unwrap() error { return e.Err }

func (e *CanceledError) Is(target error) bool { return target == ErrCanceled }
