package domain

import (
	"time"

	"github.com/google/uuid"
)

// VerificationTokenKind is the purpose a token was issued for.
type VerificationTokenKind string

const (
	TokenKindEmailConfirmation VerificationTokenKind = "email_confirmation"
	TokenKindPasswordReset     VerificationTokenKind = "password_reset"
)

// Valid reports whether k is a known purpose.
func (k VerificationTokenKind) Valid() bool {
	return k == TokenKindEmailConfirmation || k == TokenKindPasswordReset
}

// VerificationToken is a single-use, purpose-scoped credential for an
// out-of-band action. Only the SHA-256 hash of the raw value is stored.
type VerificationToken struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	TokenHash  string
	Kind       VerificationTokenKind
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	Metadata   []byte
}

// IsConsumed reports whether the token has already been used.
func (t *VerificationToken) IsConsumed() bool {
	return t.ConsumedAt != nil
}

// IsExpiredAt reports whether the token is expired at now. A token with a
// zero TTL is expired from the moment it is issued.
func (t *VerificationToken) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IssuedToken is returned once by the token issuer. Value is the raw opaque
// token and is never persisted.
type IssuedToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Kind      VerificationTokenKind
	Value     string
	ExpiresAt time.Time
}
