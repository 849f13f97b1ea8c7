package core

import "errors"

// Errors returned across the Session boundary.  Failures from the
// backend or the history store are wrapped with one of these, so
// callers can test with errors.Is.
var (
	// ErrInputRejected means the turn was empty or whitespace.
	// Nothing was changed and the backend was not called.
	ErrInputRejected = errors.New("input rejected: empty turn")

	// ErrCompletion means the backend failed or returned nothing.
	// The user message stays in the transcript; no reply was
	// appended.  Resubmit to retry.
	ErrCompletion = errors.New("completion failed")

	// ErrPersistence means saving or deleting history failed.  The
	// in-memory transcript is unaffected.
	ErrPersistence = errors.New("history persistence failed")
)
