package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/identity-manager/pkg/domain"
)

// verificationTokenLen is the raw token size in bytes (256 bits).
const verificationTokenLen = 32

// TokenIssuer issues and validates single-use, purpose-scoped tokens for
// email confirmation and password reset.
type TokenIssuer struct {
	store TokenStore
	now   func() time.Time
}

// NewTokenIssuer creates a token issuer backed by store.
func NewTokenIssuer(store TokenStore) *TokenIssuer {
	return &TokenIssuer{store: store, now: time.Now}
}

// Issue generates a new token for userID. The raw value is only returned
// here; the store keeps its SHA-256 hash. Any earlier unconsumed token of the
// same kind for the user stops working.
func (i *TokenIssuer) Issue(ctx context.Context, userID uuid.UUID, kind domain.VerificationTokenKind, ttl time.Duration) (*domain.IssuedToken, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown token kind %q", kind)
	}

	raw, err := GenerateToken(verificationTokenLen)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	now := i.now()
	token := &domain.VerificationToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: HashToken(raw),
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Metadata:  requestMetadata(ctx),
	}
	if err := i.store.CreateToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	return &domain.IssuedToken{
		ID:        token.ID,
		UserID:    userID,
		Kind:      kind,
		Value:     raw,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// Validate checks value against userID and kind without consuming it.
// Rejections are *domain.TokenError values; checks run in the order
// not found, user mismatch, purpose mismatch, consumed, expired.
func (i *TokenIssuer) Validate(ctx context.Context, userID uuid.UUID, kind domain.VerificationTokenKind, value string) (*domain.VerificationToken, error) {
	if value == "" {
		return nil, domain.NewTokenError(domain.ErrVerificationTokenNotFound)
	}

	hash := HashToken(value)
	token, err := i.store.GetTokenByHash(ctx, hash)
	if errors.Is(err, domain.ErrVerificationTokenNotFound) {
		return nil, domain.NewTokenError(domain.ErrVerificationTokenNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !TokenHashesEqual(token.TokenHash, hash) {
		return nil, domain.NewTokenError(domain.ErrVerificationTokenNotFound)
	}

	if token.UserID != userID {
		return nil, domain.NewTokenError(domain.ErrVerificationTokenUserMismatch)
	}
	if token.Kind != kind {
		return nil, domain.NewTokenError(domain.ErrVerificationTokenWrongPurpose)
	}
	if token.IsConsumed() {
		return nil, domain.NewTokenError(domain.ErrVerificationTokenConsumed)
	}
	if token.IsExpiredAt(i.now()) {
		return nil, domain.NewTokenError(domain.ErrVerificationTokenExpired)
	}

	return token, nil
}

// ConsumeAndSetPassword spends a validated reset token and stores the new
// password hash. Stores implementing PasswordResetStore do both atomically;
// otherwise the token is consumed first so a token can never set two
// passwords.
func (i *TokenIssuer) ConsumeAndSetPassword(ctx context.Context, token *domain.VerificationToken, creds CredentialStore, passwordHash string) error {
	resetStore, ok := i.store.(PasswordResetStore)
	if !ok {
		if err := i.Consume(ctx, token); err != nil {
			return err
		}
		return creds.SetPasswordHash(ctx, token.UserID, passwordHash)
	}

	now := i.now()
	consumed, err := resetStore.ConsumeTokenAndSetPassword(ctx, token.ID, token.UserID, passwordHash, now)
	if err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}
	if !consumed {
		return domain.NewTokenError(domain.ErrVerificationTokenConsumed)
	}
	token.ConsumedAt = &now
	return nil
}

// Consume marks a validated token as used. When a concurrent request got
// there first it returns a Consumed token error, so a token is only ever
// spent once.
func (i *TokenIssuer) Consume(ctx context.Context, token *domain.VerificationToken) error {
	ok, err := i.store.ConsumeToken(ctx, token.ID, i.now())
	if err != nil {
		return fmt.Errorf("failed to consume token: %w", err)
	}
	if !ok {
		return domain.NewTokenError(domain.ErrVerificationTokenConsumed)
	}
	now := i.now()
	token.ConsumedAt = &now
	return nil
}
