package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Session represents an authentication session.
type Session struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	TokenHash  string
	Persistent bool
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	LastSeenAt *time.Time
	Metadata   json.RawMessage
}

// IsValid checks if the session is valid (not expired and not revoked).
func (s *Session) IsValid() bool {
	return s.IsValidAt(time.Now())
}

// IsValidAt checks validity at the given instant.
func (s *Session) IsValidAt(now time.Time) bool {
	if s.RevokedAt != nil {
		return false
	}
	return now.Before(s.ExpiresAt)
}

// SessionRef is what a sign-in hands back to the transport layer.
// Token is the opaque handle used for revocation and lookup; AccessToken is
// only set by issuers that mint bearer tokens.
type SessionRef struct {
	ID          uuid.UUID `json:"-"`
	UserID      uuid.UUID `json:"-"`
	Token       string    `json:"refresh_token,omitempty"`
	AccessToken string    `json:"access_token,omitempty"`
	TokenType   string    `json:"token_type"`
	Persistent  bool      `json:"persistent"`
	ExpiresAt   time.Time `json:"expires_at"`
	// AccessExpiresIn is the access token lifetime in seconds.
	AccessExpiresIn int `json:"expires_in,omitempty"`
}
