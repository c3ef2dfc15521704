package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/identity-manager/pkg/domain"
)

// VerificationTokensRepository handles email confirmation and password
// reset tokens.
type VerificationTokensRepository struct {
	db *sql.DB
}

// NewVerificationTokensRepository creates a new verification tokens repository.
func NewVerificationTokensRepository(db *sql.DB) *VerificationTokensRepository {
	return &VerificationTokensRepository{db: db}
}

// CreateTx stores a token within a transaction.
func (r *VerificationTokensRepository) CreateTx(ctx context.Context, q Querier, token *domain.VerificationToken) error {
	query := `
		INSERT INTO verification_tokens (id, user_id, token_hash, kind, created_at, expires_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.ExecContext(ctx, query,
		token.ID, token.UserID, token.TokenHash, string(token.Kind),
		token.CreatedAt, token.ExpiresAt, nullJSON(token.Metadata),
	)
	return storeErr(err)
}

// GetByTokenHash retrieves a token by hash regardless of state, so callers
// can tell consumed and expired tokens apart from unknown ones.
func (r *VerificationTokensRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.VerificationToken, error) {
	query := `
		SELECT id, user_id, token_hash, kind, created_at, expires_at, consumed_at, metadata
		FROM verification_tokens
		WHERE token_hash = $1
	`
	token := &domain.VerificationToken{}
	var kind string
	err := r.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&token.ID, &token.UserID, &token.TokenHash, &kind,
		&token.CreatedAt, &token.ExpiresAt, &token.ConsumedAt, &token.Metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrVerificationTokenNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	token.Kind = domain.VerificationTokenKind(kind)
	return token, nil
}

// MarkConsumed marks a token consumed if nobody else has. The conditional
// update is what makes a token single-use under concurrent requests.
func (r *VerificationTokensRepository) MarkConsumed(ctx context.Context, tokenID uuid.UUID, now time.Time) (bool, error) {
	return r.MarkConsumedTx(ctx, r.db, tokenID, now)
}

// MarkConsumedTx is MarkConsumed within a transaction.
func (r *VerificationTokensRepository) MarkConsumedTx(ctx context.Context, q Querier, tokenID uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE verification_tokens
		SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL
	`
	result, err := q.ExecContext(ctx, query, tokenID, now)
	if err != nil {
		return false, storeErr(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, storeErr(err)
	}
	return rows == 1, nil
}

// RevokeActiveTokensTx retires all unconsumed tokens of a kind for a user
// within a transaction.
func (r *VerificationTokensRepository) RevokeActiveTokensTx(ctx context.Context, q Querier, userID uuid.UUID, kind domain.VerificationTokenKind, now time.Time) error {
	query := `
		UPDATE verification_tokens
		SET consumed_at = $3
		WHERE user_id = $1 AND kind = $2 AND consumed_at IS NULL
	`
	_, err := q.ExecContext(ctx, query, userID, string(kind), now)
	return storeErr(err)
}

// DeleteExpired removes tokens that expired before the cutoff.
func (r *VerificationTokensRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM verification_tokens WHERE expires_at < $1`
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, storeErr(err)
	}
	n, err := result.RowsAffected()
	return n, storeErr(err)
}

// nullJSON passes metadata as text so the driver never sends it as bytea.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
