package auth

import "time"

// User represents an authenticated user account. Admins may edit any
// timesheet regardless of its committed state.
type User struct {
	ID           int64
	Email        string
	FullName     string
	PasswordHash string
	IsAdmin      bool
	IsActive     bool
	// LastCommittedAt is the account-level marker stamped whenever one of
	// the user's timesheets transitions to committed.
	LastCommittedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
