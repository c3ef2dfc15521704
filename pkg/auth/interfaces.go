package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/identity-manager/pkg/domain"
)

// CredentialStore persists users and their password hashes.
//
// Emails are passed in normalized (lowercase) form. Lookups that miss return
// domain.ErrUserNotFound; infrastructure failures wrap
// domain.ErrStoreUnavailable.
type CredentialStore interface {
	// CreateUser stores the user and its password hash together. It returns
	// domain.ErrUserAlreadyExists when the email is taken.
	CreateUser(ctx context.Context, user *domain.User, passwordHash string) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
	SetEmailVerified(ctx context.Context, userID uuid.UUID) error
	GetPasswordHash(ctx context.Context, userID uuid.UUID) (string, error)
	SetPasswordHash(ctx context.Context, userID uuid.UUID, passwordHash string) error
}

// LockoutStore performs the failed-login read-modify-write as one atomic
// operation so concurrent logins never lose an increment.
type LockoutStore interface {
	// RecordFailedLogin increments the counter. When a previous lock has
	// elapsed the count restarts at 1. Reaching policy.MaxFailedAttempts sets
	// locked_until to now+policy.Duration. An active lock is left untouched.
	RecordFailedLogin(ctx context.Context, userID uuid.UUID, now time.Time, policy domain.LockoutPolicy) (domain.LockoutState, error)
	// ResetFailedLogins sets the counter to zero and clears locked_until.
	ResetFailedLogins(ctx context.Context, userID uuid.UUID) error
}

// TokenStore persists verification tokens by hash.
type TokenStore interface {
	// CreateToken stores the token and, in the same transaction, retires
	// every other unconsumed token of the same user and kind.
	CreateToken(ctx context.Context, token *domain.VerificationToken) error
	// GetTokenByHash returns domain.ErrVerificationTokenNotFound on a miss.
	GetTokenByHash(ctx context.Context, tokenHash string) (*domain.VerificationToken, error)
	// ConsumeToken marks the token consumed if it is not already. It reports
	// false when another caller consumed it first.
	ConsumeToken(ctx context.Context, tokenID uuid.UUID, now time.Time) (bool, error)
}

// PasswordResetStore is implemented by stores that can spend a reset token
// and replace the password atomically. ConsumeTokenAndSetPassword reports
// false, changing nothing, when the token was already consumed; when the
// password cannot be written the token stays unconsumed.
type PasswordResetStore interface {
	ConsumeTokenAndSetPassword(ctx context.Context, tokenID, userID uuid.UUID, passwordHash string, now time.Time) (bool, error)
}

// SessionStore persists server-side session records keyed by token hash.
type SessionStore interface {
	CreateSession(ctx context.Context, session *domain.Session) error
	// GetSessionByTokenHash returns domain.ErrSessionNotFound on a miss.
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	// GetSessionByID returns the session whether or not it is revoked, so
	// access tokens can be checked against it.
	GetSessionByID(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	// RevokeSessionByTokenHash is a no-op when no active session matches.
	RevokeSessionByTokenHash(ctx context.Context, tokenHash string, now time.Time) error
	RevokeUserSessions(ctx context.Context, userID uuid.UUID, now time.Time) error
	TouchSession(ctx context.Context, sessionID uuid.UUID, now time.Time) error
}

// PasswordHasher is a one-way password hash.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) bool
}

// SessionIssuer issues and revokes authenticated sessions.
type SessionIssuer interface {
	Issue(ctx context.Context, userID uuid.UUID, persistent bool) (*domain.SessionRef, error)
	// Revoke is idempotent: unknown or already revoked tokens are not an error.
	Revoke(ctx context.Context, token string) error
	// Resolve returns the user a presented token belongs to.
	Resolve(ctx context.Context, token string) (uuid.UUID, error)
}

// SessionRevoker is implemented by issuers that can end every session of a
// user, which the account service does after a password reset.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID uuid.UUID) error
}

// NotificationSender delivers an out-of-band message. Implementations wrap
// delivery failures with domain.ErrSendFailed.
type NotificationSender interface {
	Send(ctx context.Context, to, subject, body string) error
}
