package vad

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Match them with errors.Is; the concrete error returned by the
// engine is usually an *Error that also unwraps to the underlying cause.
var (
	// ErrConfigurationConflict is returned when the configuration is changed
	// while the engine is busy: not Idle, or holding a partial frame.
	ErrConfigurationConflict = errors.New("configuration conflict")

	// ErrInvalidConfig is returned when a configuration fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidProbability marks a NaN or out-of-range score. The frame is
	// classified as non-speech and the stream continues.
	ErrInvalidProbability = errors.New("invalid probability")

	// ErrInference marks a probability source failure for a single frame.
	// The frame is not classified and processing continues with the next one.
	ErrInference = errors.New("inference error")

	// ErrResourceUnavailable is returned when the model artifact is missing,
	// corrupt or incompatible at configuration time.
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrReleased is returned by operations on a released engine.
	ErrReleased = errors.New("engine released")
)

// Error describes a failed engine operation.
type Error struct {
	Op    string // operation that failed, e.g. "push" or "apply"
	Kind  error  // one of the Err* kinds above
	Frame int64  // frame index, or -1 when the error is not tied to a frame
	Err   error  // underlying cause, may be nil
}

func newError(op string, kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Frame: -1, Err: err}
}

func frameError(op string, kind error, frame int64, err error) *Error {
	return &Error{Op: op, Kind: kind, Frame: frame, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("vad: ")
	b.WriteString(e.Op)
	if e.Frame >= 0 {
		fmt.Fprintf(&b, " frame %d", e.Frame)
	}
	b.WriteString(": ")
	switch {
	case e.Err == nil:
		b.WriteString(e.Kind.Error())
	case e.Kind == nil || errors.Is(e.Err, e.Kind):
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(e.Kind.Error())
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsRecoverable reports whether err only affected individual frames and the
// stream kept running.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrInvalidProbability) || errors.Is(err, ErrInference)
}

// IsConflict reports whether err is a configuration conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConfigurationConflict)
}
