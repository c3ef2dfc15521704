package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tendant/identity-manager/pkg/domain"
)

const (
	// Token lengths
	sessionTokenLen = 32

	// Default token lifetimes
	DefaultAccessTokenTTL = 15 * time.Minute
	DefaultSessionTTL     = 12 * time.Hour
	DefaultRememberMeTTL  = 14 * 24 * time.Hour
)

// SessionConfig holds session configuration.
type SessionConfig struct {
	AccessTokenTTL time.Duration
	// SessionTTL applies to sessions without remember-me.
	SessionTTL time.Duration
	// RememberMeTTL applies to persistent sessions.
	RememberMeTTL time.Duration
	JWTSecret     []byte
	Issuer        string
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.RememberMeTTL == 0 {
		c.RememberMeTTL = DefaultRememberMeTTL
	}
	return c
}

// lifetime returns how long a session lives given the remember-me flag.
func (c SessionConfig) lifetime(persistent bool) time.Duration {
	if persistent {
		return c.RememberMeTTL
	}
	return c.SessionTTL
}

// AccessTokenClaims represents the claims in an access token.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Persistent bool `json:"persistent,omitempty"`
}

// JWTSessionIssuer keeps a server-side session per sign-in, addressed by an
// opaque token stored hashed, and mints short-lived HS256 access tokens
// bound to it.
type JWTSessionIssuer struct {
	config   SessionConfig
	sessions SessionStore
	now      func() time.Time
}

// NewJWTSessionIssuer creates a new JWT session issuer.
func NewJWTSessionIssuer(config SessionConfig, sessions SessionStore) *JWTSessionIssuer {
	return &JWTSessionIssuer{
		config:   config.withDefaults(),
		sessions: sessions,
		now:      time.Now,
	}
}

// AccessTokenTTL returns the access token TTL.
func (s *JWTSessionIssuer) AccessTokenTTL() time.Duration {
	return s.config.AccessTokenTTL
}

// Issue creates a new session and returns its opaque token plus an access
// token.
func (s *JWTSessionIssuer) Issue(ctx context.Context, userID uuid.UUID, persistent bool) (*domain.SessionRef, error) {
	now := s.now()

	sessionToken, err := GenerateToken(sessionTokenLen)
	if err != nil {
		return nil, err
	}

	session := &domain.Session{
		ID:         uuid.New(),
		UserID:     userID,
		TokenHash:  HashToken(sessionToken),
		Persistent: persistent,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.config.lifetime(persistent)),
		Metadata:   requestMetadata(ctx),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	accessToken, err := s.signAccessToken(session, now)
	if err != nil {
		return nil, err
	}

	return &domain.SessionRef{
		ID:              session.ID,
		UserID:          userID,
		Token:           sessionToken,
		AccessToken:     accessToken,
		TokenType:       "Bearer",
		Persistent:      persistent,
		ExpiresAt:       session.ExpiresAt,
		AccessExpiresIn: int(s.config.AccessTokenTTL.Seconds()),
	}, nil
}

// Refresh mints a new access token for a live session.
func (s *JWTSessionIssuer) Refresh(ctx context.Context, sessionToken string) (*domain.SessionRef, error) {
	session, err := s.lookup(ctx, sessionToken)
	if err != nil {
		return nil, err
	}

	now := s.now()
	_ = s.sessions.TouchSession(ctx, session.ID, now)

	accessToken, err := s.signAccessToken(session, now)
	if err != nil {
		return nil, err
	}

	return &domain.SessionRef{
		ID:              session.ID,
		UserID:          session.UserID,
		Token:           sessionToken, // Return same session token
		AccessToken:     accessToken,
		TokenType:       "Bearer",
		Persistent:      session.Persistent,
		ExpiresAt:       session.ExpiresAt,
		AccessExpiresIn: int(s.config.AccessTokenTTL.Seconds()),
	}, nil
}

// Revoke revokes a session by its opaque token.
func (s *JWTSessionIssuer) Revoke(ctx context.Context, sessionToken string) error {
	if sessionToken == "" {
		return nil
	}
	return s.sessions.RevokeSessionByTokenHash(ctx, HashToken(sessionToken), s.now())
}

// RevokeAll revokes all sessions for a user.
func (s *JWTSessionIssuer) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	return s.sessions.RevokeUserSessions(ctx, userID, s.now())
}

// Resolve accepts either an access token or an opaque session token.
func (s *JWTSessionIssuer) Resolve(ctx context.Context, token string) (uuid.UUID, error) {
	if strings.Count(token, ".") == 2 {
		return s.resolveAccessToken(ctx, token)
	}

	session, err := s.lookup(ctx, token)
	if err != nil {
		return uuid.Nil, err
	}
	return session.UserID, nil
}

// ValidateAccessToken validates an access token and returns the claims.
func (s *JWTSessionIssuer) ValidateAccessToken(tokenString string) (*AccessTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return s.config.JWTSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessTokenClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrInvalidToken
	}

	return claims, nil
}

// resolveAccessToken checks the signature and then the session the token
// was minted for, so logout and RevokeAll take effect before the token
// expires.
func (s *JWTSessionIssuer) resolveAccessToken(ctx context.Context, token string) (uuid.UUID, error) {
	claims, err := s.ValidateAccessToken(token)
	if err != nil {
		return uuid.Nil, err
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, domain.ErrInvalidToken
	}
	sessionID, err := uuid.Parse(claims.ID)
	if err != nil {
		return uuid.Nil, domain.ErrInvalidToken
	}

	session, err := s.sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		return uuid.Nil, err
	}
	if session.UserID != userID {
		return uuid.Nil, domain.ErrInvalidToken
	}
	if err := s.checkLive(session); err != nil {
		return uuid.Nil, err
	}
	return userID, nil
}

func (s *JWTSessionIssuer) checkLive(session *domain.Session) error {
	if session.IsValidAt(s.now()) {
		return nil
	}
	if session.RevokedAt != nil {
		return domain.ErrSessionRevoked
	}
	return domain.ErrSessionExpired
}

func (s *JWTSessionIssuer) lookup(ctx context.Context, sessionToken string) (*domain.Session, error) {
	if sessionToken == "" {
		return nil, domain.ErrSessionNotFound
	}
	session, err := s.sessions.GetSessionByTokenHash(ctx, HashToken(sessionToken))
	if err != nil {
		return nil, err
	}

	if err := s.checkLive(session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *JWTSessionIssuer) signAccessToken(session *domain.Session, now time.Time) (string, error) {
	expiry := now.Add(s.config.AccessTokenTTL)
	if expiry.After(session.ExpiresAt) {
		expiry = session.ExpiresAt
	}

	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
			Issuer:    s.config.Issuer,
			ID:        session.ID.String(),
		},
		Persistent: session.Persistent,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.config.JWTSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// IsSessionError reports whether err means the presented session is not
// usable.
func IsSessionError(err error) bool {
	return errors.Is(err, domain.ErrSessionNotFound) ||
		errors.Is(err, domain.ErrSessionExpired) ||
		errors.Is(err, domain.ErrSessionRevoked) ||
		errors.Is(err, domain.ErrInvalidToken)
}
