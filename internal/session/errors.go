package session

import "errors"

// The error taxonomy surfaced to HTTP handlers. Hot-path failures are
// returned synchronously; background failures surface as error events.
var (
	ErrValidation    = errors.New("invalid request")
	ErrNotFound      = errors.New("session not found")
	ErrInvalidState  = errors.New("operation not valid in current session state")
	ErrUpstream      = errors.New("speech provider failure")
	ErrConfiguration = errors.New("speech provider credentials not configured")
)
