package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrNotPermitted indicates the current actor lacks the required capability.
	ErrNotPermitted = errors.New("not permitted")
	// ErrStaleVersion indicates an optimistic-lock conflict: the record changed
	// since the caller last read it and the whole update was rejected.
	ErrStaleVersion = errors.New("stale version")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
