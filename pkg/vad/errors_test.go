package vad

import (
	"errors"
	"testing"

	"github.com/matryer/is"
)

func TestErrorUnwrapsKindAndCause(t *testing.T) {
	is := is.New(t)

	cause := errors.New("tensor shape mismatch")
	err := frameError("push", ErrInference, 12, cause)

	is.True(errors.Is(err, ErrInference))
	is.True(errors.Is(err, cause))
	is.True(IsRecoverable(err))
	is.True(!IsConflict(err))
	is.Equal(err.Error(), "vad: push frame 12: inference error: tensor shape mismatch")
}

func TestErrorMessages(t *testing.T) {
	is := is.New(t)

	is.Equal(newError("push", ErrReleased, nil).Error(), "vad: push: engine released")
	is.True(IsConflict(newError("apply", ErrConfigurationConflict, nil)))

	wrapped := newError("apply", ErrInvalidConfig, errors.Join(ErrInvalidConfig))
	is.Equal(wrapped.Error(), "vad: apply: invalid configuration")
}
