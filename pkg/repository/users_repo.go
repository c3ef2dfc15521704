package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/identity-manager/pkg/domain"
)

// UsersRepository handles user persistence.
type UsersRepository struct {
	db *sql.DB
}

// NewUsersRepository creates a new users repository.
func NewUsersRepository(db *sql.DB) *UsersRepository {
	return &UsersRepository{db: db}
}

const userColumns = `id, email, name, email_verified, failed_login_attempts, locked_until,
		       created_at, updated_at, deleted_at`

// Create creates a new user.
func (r *UsersRepository) Create(ctx context.Context, user *domain.User) error {
	return r.CreateTx(ctx, r.db, user)
}

// CreateTx creates a new user within a transaction.
func (r *UsersRepository) CreateTx(ctx context.Context, q Querier, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, name, email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := q.ExecContext(ctx, query,
		user.ID, user.Email, user.Name, user.EmailVerified, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrUserAlreadyExists
	}
	return storeErr(err)
}

// GetByID retrieves a user by ID.
func (r *UsersRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1 AND deleted_at IS NULL
	`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves a user by email, ignoring case.
func (r *UsersRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE lower(email) = lower($1) AND deleted_at IS NULL
	`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func scanUser(row *sql.Row) (*domain.User, error) {
	user := &domain.User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.Name, &user.EmailVerified,
		&user.FailedLoginAttempts, &user.LockedUntil,
		&user.CreatedAt, &user.UpdatedAt, &user.DeletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return user, nil
}

// Update updates the profile fields of a user. Lockout columns are only
// written by RecordFailedLogin and ResetFailedLoginAttempts.
func (r *UsersRepository) Update(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users
		SET email = $2, name = $3, email_verified = $4, updated_at = $5
		WHERE id = $1 AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.Name, user.EmailVerified, time.Now(),
	)
	if isUniqueViolation(err) {
		return domain.ErrUserAlreadyExists
	}
	return requireRow(result, err, domain.ErrUserNotFound)
}

// SetEmailVerified marks the user's email as verified.
func (r *UsersRepository) SetEmailVerified(ctx context.Context, userID uuid.UUID) error {
	query := `
		UPDATE users
		SET email_verified = TRUE, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, userID)
	return requireRow(result, err, domain.ErrUserNotFound)
}

// RecordFailedLogin applies one failed login in a single statement. All
// right-hand sides see the pre-update row, so:
//   - an active lock is kept as is,
//   - an elapsed lock restarts the count at 1,
//   - otherwise the count increments, capped at the threshold,
//   - reaching the threshold sets locked_until = $4.
func (r *UsersRepository) RecordFailedLogin(ctx context.Context, userID uuid.UUID, now time.Time, policy domain.LockoutPolicy) (domain.LockoutState, error) {
	query := `
		UPDATE users
		SET failed_login_attempts = CASE
		        WHEN locked_until > $2 THEN failed_login_attempts
		        WHEN locked_until IS NOT NULL THEN LEAST(1, $3)
		        ELSE LEAST(failed_login_attempts + 1, $3)
		    END,
		    locked_until = CASE
		        WHEN locked_until > $2 THEN locked_until
		        WHEN locked_until IS NOT NULL AND 1 >= $3 THEN $4
		        WHEN locked_until IS NULL AND failed_login_attempts + 1 >= $3 THEN $4
		        ELSE NULL
		    END,
		    updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING failed_login_attempts, locked_until
	`
	var state domain.LockoutState
	err := r.db.QueryRowContext(ctx, query,
		userID, now, policy.MaxFailedAttempts, now.Add(policy.Duration),
	).Scan(&state.FailedAttempts, &state.LockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LockoutState{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.LockoutState{}, storeErr(err)
	}
	return state, nil
}

// ResetFailedLoginAttempts resets the failed login attempts and clears lockout.
func (r *UsersRepository) ResetFailedLoginAttempts(ctx context.Context, userID uuid.UUID) error {
	query := `
		UPDATE users
		SET failed_login_attempts = 0,
		    locked_until = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, userID)
	return requireRow(result, err, domain.ErrUserNotFound)
}

// requireRow maps an exec result that touched no rows to notFound.
func requireRow(result sql.Result, err error, notFound error) error {
	if err != nil {
		return storeErr(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
