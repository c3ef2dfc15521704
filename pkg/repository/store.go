package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/identity-manager/pkg/domain"
)

// Store adapts the table repositories to the storage interfaces consumed by
// the auth package.
type Store struct {
	db       *sql.DB
	users    *UsersRepository
	creds    *CredentialsRepository
	tokens   *VerificationTokensRepository
	sessions *SessionsRepository
}

// NewStore creates a Postgres-backed store.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:       db,
		users:    NewUsersRepository(db),
		creds:    NewCredentialsRepository(db),
		tokens:   NewVerificationTokensRepository(db),
		sessions: NewSessionsRepository(db),
	}
}

// CreateUser inserts the user and its password in one transaction.
func (s *Store) CreateUser(ctx context.Context, user *domain.User, passwordHash string) error {
	return Tx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.users.CreateTx(ctx, tx, user); err != nil {
			return err
		}
		return s.creds.CreateTx(ctx, tx, &domain.UserPassword{
			UserID:            user.ID,
			PasswordHash:      passwordHash,
			PasswordUpdatedAt: user.CreatedAt,
		})
	})
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.users.GetByEmail(ctx, email)
}

func (s *Store) UpdateUser(ctx context.Context, user *domain.User) error {
	return s.users.Update(ctx, user)
}

func (s *Store) SetEmailVerified(ctx context.Context, userID uuid.UUID) error {
	return s.users.SetEmailVerified(ctx, userID)
}

func (s *Store) GetPasswordHash(ctx context.Context, userID uuid.UUID) (string, error) {
	cred, err := s.creds.GetByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	return cred.PasswordHash, nil
}

func (s *Store) SetPasswordHash(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	return s.creds.UpdatePassword(ctx, userID, passwordHash)
}

// ConsumeTokenAndSetPassword spends a reset token and writes the new hash in
// one transaction.
func (s *Store) ConsumeTokenAndSetPassword(ctx context.Context, tokenID, userID uuid.UUID, passwordHash string, now time.Time) (bool, error) {
	var consumed bool
	err := Tx(ctx, s.db, func(tx *sql.Tx) error {
		ok, err := s.tokens.MarkConsumedTx(ctx, tx, tokenID, now)
		if err != nil || !ok {
			return err
		}
		if err := s.creds.UpdatePasswordTx(ctx, tx, userID, passwordHash); err != nil {
			return err
		}
		consumed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return consumed, nil
}

func (s *Store) RecordFailedLogin(ctx context.Context, userID uuid.UUID, now time.Time, policy domain.LockoutPolicy) (domain.LockoutState, error) {
	return s.users.RecordFailedLogin(ctx, userID, now, policy)
}

func (s *Store) ResetFailedLogins(ctx context.Context, userID uuid.UUID) error {
	return s.users.ResetFailedLoginAttempts(ctx, userID)
}

// CreateToken retires the user's active tokens of the same kind and stores
// the new one in one transaction.
func (s *Store) CreateToken(ctx context.Context, token *domain.VerificationToken) error {
	return Tx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.tokens.RevokeActiveTokensTx(ctx, tx, token.UserID, token.Kind, token.CreatedAt); err != nil {
			return err
		}
		return s.tokens.CreateTx(ctx, tx, token)
	})
}

func (s *Store) GetTokenByHash(ctx context.Context, tokenHash string) (*domain.VerificationToken, error) {
	return s.tokens.GetByTokenHash(ctx, tokenHash)
}

func (s *Store) ConsumeToken(ctx context.Context, tokenID uuid.UUID, now time.Time) (bool, error) {
	return s.tokens.MarkConsumed(ctx, tokenID, now)
}

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	return s.sessions.Create(ctx, session)
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	return s.sessions.GetByTokenHash(ctx, tokenHash)
}

func (s *Store) GetSessionByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return s.sessions.GetByID(ctx, id)
}

func (s *Store) RevokeSessionByTokenHash(ctx context.Context, tokenHash string, now time.Time) error {
	return s.sessions.RevokeByTokenHash(ctx, tokenHash, now)
}

func (s *Store) RevokeUserSessions(ctx context.Context, userID uuid.UUID, now time.Time) error {
	return s.sessions.RevokeAllByUserID(ctx, userID, now)
}

func (s *Store) TouchSession(ctx context.Context, sessionID uuid.UUID, now time.Time) error {
	return s.sessions.UpdateLastSeen(ctx, sessionID, now)
}

// Cleanup deletes sessions and tokens that expired before cutoff.
func (s *Store) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	sessions, err := s.sessions.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	tokens, err := s.tokens.DeleteExpired(ctx, cutoff)
	if err != nil {
		return sessions, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return sessions + tokens, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return storeErr(s.db.PingContext(ctx))
}
