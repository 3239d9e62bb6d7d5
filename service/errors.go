package service

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrState               = errors.New("invalid state")
	ErrResourceUnavailable = errors.New("resource unavailable")
	ErrIO                  = errors.New("io error")
	ErrEncode              = errors.New("encode error")
	ErrNotFound            = errors.New("not found")

	ErrAlreadyStopping = fmt.Errorf("%w: recording is already stopping", ErrState)
	ErrNoValidFrames   = fmt.Errorf("%w: no valid frames", ErrEncode)
)

// IsRetryable reports whether repeating the same request could succeed.
// Caller mistakes and lifecycle conflicts are final.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrValidation), errors.Is(err, ErrState), errors.Is(err, ErrNotFound):
		return false
	case errors.Is(err, ErrResourceUnavailable), errors.Is(err, ErrEncode):
		return false
	}
	return true
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func stateError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrState, fmt.Sprintf(format, args...))
}
