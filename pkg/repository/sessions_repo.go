package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/identity-manager/pkg/domain"
)

// SessionsRepository handles session persistence.
type SessionsRepository struct {
	db *sql.DB
}

// NewSessionsRepository creates a new sessions repository.
func NewSessionsRepository(db *sql.DB) *SessionsRepository {
	return &SessionsRepository{db: db}
}

// Create creates a new session.
func (r *SessionsRepository) Create(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, token_hash, persistent, created_at, expires_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.TokenHash, session.Persistent,
		session.CreatedAt, session.ExpiresAt, nullJSON(session.Metadata),
	)
	return storeErr(err)
}

// GetByTokenHash retrieves an unrevoked session by token hash.
func (r *SessionsRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	query := `
		SELECT id, user_id, token_hash, persistent, created_at, expires_at, revoked_at, last_seen_at, metadata
		FROM sessions
		WHERE token_hash = $1 AND revoked_at IS NULL
	`
	return scanSession(r.db.QueryRowContext(ctx, query, tokenHash))
}

func scanSession(row *sql.Row) (*domain.Session, error) {
	session := &domain.Session{}
	var metadata []byte
	err := row.Scan(
		&session.ID, &session.UserID, &session.TokenHash, &session.Persistent,
		&session.CreatedAt, &session.ExpiresAt, &session.RevokedAt,
		&session.LastSeenAt, &metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	session.Metadata = metadata
	return session, nil
}

// GetByID retrieves a session by ID, revoked or not.
func (r *SessionsRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `
		SELECT id, user_id, token_hash, persistent, created_at, expires_at, revoked_at, last_seen_at, metadata
		FROM sessions
		WHERE id = $1
	`
	return scanSession(r.db.QueryRowContext(ctx, query, id))
}

// RevokeByTokenHash revokes a session by token hash. Already revoked or
// unknown sessions are left alone.
func (r *SessionsRepository) RevokeByTokenHash(ctx context.Context, tokenHash string, now time.Time) error {
	query := `
		UPDATE sessions
		SET revoked_at = $2
		WHERE token_hash = $1 AND revoked_at IS NULL
	`
	_, err := r.db.ExecContext(ctx, query, tokenHash, now)
	return storeErr(err)
}

// RevokeAllByUserID revokes all sessions for a user.
func (r *SessionsRepository) RevokeAllByUserID(ctx context.Context, userID uuid.UUID, now time.Time) error {
	query := `
		UPDATE sessions
		SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL
	`
	_, err := r.db.ExecContext(ctx, query, userID, now)
	return storeErr(err)
}

// UpdateLastSeen updates the last seen timestamp.
func (r *SessionsRepository) UpdateLastSeen(ctx context.Context, sessionID uuid.UUID, now time.Time) error {
	query := `UPDATE sessions SET last_seen_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, sessionID, now)
	return storeErr(err)
}

// DeleteExpired removes sessions that expired before the cutoff.
func (r *SessionsRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM sessions WHERE expires_at < $1`
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, storeErr(err)
	}
	n, err := result.RowsAffected()
	return n, storeErr(err)
}
