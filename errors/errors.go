package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrSessionNotFound indicates that no in-flight session matches the
	// supplied id. Callers must treat this as stale/unknown, not retryable.
	ErrSessionNotFound = errors.New("session not found")

	// ErrWorkbenchUnavailable indicates that a workbench handle is not Ready
	// and cannot serve invocations.
	ErrWorkbenchUnavailable = errors.New("workbench unavailable")

	// ErrClientClosed is returned when an underlying protocol client has been
	// closed.
	ErrClientClosed = errors.New("client closed")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrRunNotFound indicates that no archived run matches the supplied id.
	ErrRunNotFound = errors.New("run not found")
)
