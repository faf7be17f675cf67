package errs

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyInRoom        = errors.New("participant is already in a room")
	ErrRoomNotFound         = errors.New("room not found")
	ErrInvalidRoomReference = errors.New("invalid room reference")
	ErrCaptureUnavailable   = errors.New("screen capture unavailable")
	ErrCameraUnavailable    = errors.New("camera unavailable")
	ErrStalePeerLink        = errors.New("stale peer link")
	ErrTransportFailed      = errors.New("transport failed")
	ErrNegotiationTimeout   = errors.New("negotiation timed out")
	ErrNotInRoom            = errors.New("participant is not in a room")
	ErrNotAttached          = errors.New("participant is not attached")
	ErrAlreadyAttached      = errors.New("participant is already attached")
	ErrConnectionClosed     = errors.New("connection closed")
	ErrUnexpectedMessage    = errors.New("unexpected message type")
)

// OpError records the operation that failed alongside the cause.
type OpError struct {
	Op      string
	Err     error
	Details string
}

func (e *OpError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *OpError {
	return &OpError{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *OpError {
	return &OpError{Op: op, Err: err, Details: details}
}

// Message returns the text shown to a user for err. Known sentinel
// errors map to their own text; anything else falls back to err.Error().
func Message(err error) string {
	for _, known := range []error{
		ErrAlreadyInRoom,
		ErrRoomNotFound,
		ErrInvalidRoomReference,
		ErrCaptureUnavailable,
		ErrCameraUnavailable,
		ErrNotInRoom,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}
