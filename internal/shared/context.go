package shared

import (
	"context"
	"errors"
)

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// UserSafeMessage maps internal errors to text suitable for end users.
// Unknown errors collapse to a generic message so internals never leak
// into rendered pages.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "The requested record could not be found."
	case errors.Is(err, ErrNotPermitted):
		return "You are not allowed to perform this action."
	case errors.Is(err, ErrStaleVersion):
		return "Someone else changed this timesheet while you were editing. Please reload and try again."
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	default:
		return "Something went wrong. Please try again."
	}
}
