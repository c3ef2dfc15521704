package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/tendant/identity-manager/pkg/domain"
)

// CredentialsRepository handles password hashes, kept apart from the user
// profile.
type CredentialsRepository struct {
	db *sql.DB
}

// NewCredentialsRepository creates a new credentials repository.
func NewCredentialsRepository(db *sql.DB) *CredentialsRepository {
	return &CredentialsRepository{db: db}
}

// CreateTx stores the initial password within a transaction.
func (r *CredentialsRepository) CreateTx(ctx context.Context, q Querier, cred *domain.UserPassword) error {
	query := `
		INSERT INTO user_passwords (user_id, password_hash, password_updated_at)
		VALUES ($1, $2, $3)
	`
	_, err := q.ExecContext(ctx, query, cred.UserID, cred.PasswordHash, cred.PasswordUpdatedAt)
	return storeErr(err)
}

// GetByUserID returns the password record for a user.
func (r *CredentialsRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserPassword, error) {
	query := `
		SELECT user_id, password_hash, password_updated_at
		FROM user_passwords
		WHERE user_id = $1
	`
	cred := &domain.UserPassword{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&cred.UserID, &cred.PasswordHash, &cred.PasswordUpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return cred, nil
}

// UpdatePassword replaces the password hash.
func (r *CredentialsRepository) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	return r.UpdatePasswordTx(ctx, r.db, userID, passwordHash)
}

// UpdatePasswordTx replaces the password hash within a transaction.
func (r *CredentialsRepository) UpdatePasswordTx(ctx context.Context, q Querier, userID uuid.UUID, passwordHash string) error {
	query := `
		UPDATE user_passwords
		SET password_hash = $2, password_updated_at = NOW()
		WHERE user_id = $1
	`
	result, err := q.ExecContext(ctx, query, userID, passwordHash)
	return requireRow(result, err, domain.ErrUserNotFound)
}
