package bungie

import (
	"errors"
	"fmt"
)

// ErrResponseMissing indicates a success envelope whose Response payload was
// absent. Callers treat it as "no such entity" for definition lookups.
var ErrResponseMissing = errors.New("response object missing")

// APIError is a platform-level error envelope: the request reached Bungie
// but was rejected with an application error code.
type APIError struct {
	Message         string
	ErrorCode       int
	ThrottleSeconds int
}

func (e *APIError) Error() string {
	if e.ThrottleSeconds > 0 {
		return fmt.Sprintf("%s (%d), throttled for %ds", e.Message, e.ErrorCode, e.ThrottleSeconds)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.ErrorCode)
}

// DecodeError indicates a response body that did not match the expected
// envelope shape.
type DecodeError struct {
	StatusCode int
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to parse response (status %d): %v", e.StatusCode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
