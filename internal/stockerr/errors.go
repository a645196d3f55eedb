// Package stockerr defines the sentinel error taxonomy shared across the
// capture service so callers can classify failures with errors.Is/errors.As
// instead of matching on message text.
package stockerr

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthInvalid means the bearer token was rejected or has expired.
	ErrAuthInvalid = errors.New("stockerr: auth invalid")
	// ErrTransportTransient means a retryable network/5xx condition occurred.
	ErrTransportTransient = errors.New("stockerr: transient transport failure")
	// ErrProtocolMalformed means a wire frame could not be decoded.
	ErrProtocolMalformed = errors.New("stockerr: malformed protocol frame")
	// ErrConfigInvalid means a configuration value failed validation.
	ErrConfigInvalid = errors.New("stockerr: invalid configuration")
	// ErrStorageFailure means a filesystem read/write/rename failed.
	ErrStorageFailure = errors.New("stockerr: storage failure")
	// ErrLogicError means an internal invariant was violated.
	ErrLogicError = errors.New("stockerr: logic error")
)

// Wrap attaches a sentinel to a lower-level error so both errors.Is(sentinel)
// and the original message survive.
func Wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}
