package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents the account.
type User struct {
	ID                  uuid.UUID
	Email               string
	Name                string
	EmailVerified       bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           *time.Time
}

// IsLocked returns true if the account is currently locked.
func (u *User) IsLocked() bool {
	return u.IsLockedAt(time.Now())
}

// IsLockedAt reports whether the account is locked at the given instant.
// A lock ends exactly at LockedUntil.
func (u *User) IsLockedAt(now time.Time) bool {
	if u.LockedUntil == nil {
		return false
	}
	return now.Before(*u.LockedUntil)
}

// UserPassword stores password credentials separately from user profile.
type UserPassword struct {
	UserID            uuid.UUID
	PasswordHash      string
	PasswordUpdatedAt time.Time
}

// LockoutPolicy configures when repeated login failures lock an account.
type LockoutPolicy struct {
	MaxFailedAttempts int
	Duration          time.Duration
}

// Default lockout settings.
const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 30 * time.Minute
)

// DefaultLockoutPolicy returns the default lockout policy.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxFailedAttempts: DefaultMaxFailedAttempts,
		Duration:          DefaultLockoutDuration,
	}
}

// LockoutState is the failed-login state after an atomic update.
type LockoutState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// LockedAt reports whether the state represents a lock active at now.
func (s LockoutState) LockedAt(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}
