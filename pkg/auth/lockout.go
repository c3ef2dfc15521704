package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/identity-manager/pkg/domain"
)

// LockoutTracker counts failed logins per user and locks the account for a
// cooldown once the threshold is reached. Locks expire lazily: there is no
// timer, the next login attempt just observes that locked_until has passed.
type LockoutTracker struct {
	store  LockoutStore
	policy domain.LockoutPolicy
	now    func() time.Time
}

// NewLockoutTracker creates a tracker. Zero policy fields fall back to the
// defaults.
func NewLockoutTracker(store LockoutStore, policy domain.LockoutPolicy) *LockoutTracker {
	if policy.MaxFailedAttempts <= 0 {
		policy.MaxFailedAttempts = domain.DefaultMaxFailedAttempts
	}
	if policy.Duration <= 0 {
		policy.Duration = domain.DefaultLockoutDuration
	}
	return &LockoutTracker{store: store, policy: policy, now: time.Now}
}

// Policy returns the effective lockout policy.
func (t *LockoutTracker) Policy() domain.LockoutPolicy {
	return t.policy
}

// Check returns a *domain.LockedOutError while user is locked.
func (t *LockoutTracker) Check(user *domain.User) error {
	if user.IsLockedAt(t.now()) {
		return &domain.LockedOutError{Until: *user.LockedUntil}
	}
	return nil
}

// RecordFailure registers a failed attempt. It returns a
// *domain.LockedOutError when this failure locked the account.
func (t *LockoutTracker) RecordFailure(ctx context.Context, userID uuid.UUID) error {
	now := t.now()
	state, err := t.store.RecordFailedLogin(ctx, userID, now, t.policy)
	if err != nil {
		return fmt.Errorf("failed to record failed login: %w", err)
	}
	if state.LockedAt(now) {
		return &domain.LockedOutError{Until: *state.LockedUntil}
	}
	return nil
}

// RecordSuccess reopens the account and resets the failure count.
func (t *LockoutTracker) RecordSuccess(ctx context.Context, userID uuid.UUID) error {
	if err := t.store.ResetFailedLogins(ctx, userID); err != nil {
		return fmt.Errorf("failed to reset failed logins: %w", err)
	}
	return nil
}
