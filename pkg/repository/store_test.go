package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tendant/identity-manager/pkg/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return NewStore(db), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

var userRowColumns = []string{
	"id", "email", "name", "email_verified", "failed_login_attempts", "locked_until",
	"created_at", "updated_at", "deleted_at",
}

func TestConfig_DSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "idm", Password: "pw", DBName: "accounts"}
	want := "host=db port=5432 user=idm password=pw dbname=accounts sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestStore_CreateUser(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	user := &domain.User{ID: uuid.New(), Email: "a@x.com", Name: "A", CreatedAt: now, UpdatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WithArgs(user.ID, "a@x.com", "A", false, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO user_passwords").
		WithArgs(user.ID, "hash", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.CreateUser(context.Background(), user, "hash"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	expectationsMet(t, mock)
}

func TestStore_CreateUser_DuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)
	user := &domain.User{ID: uuid.New(), Email: "a@x.com"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := store.CreateUser(context.Background(), user, "hash")
	if !errors.Is(err, domain.ErrUserAlreadyExists) {
		t.Errorf("err = %v, want ErrUserAlreadyExists", err)
	}
	expectationsMet(t, mock)
}

func TestStore_CreateUser_PasswordInsertFails(t *testing.T) {
	store, mock := newMockStore(t)
	user := &domain.User{ID: uuid.New(), Email: "a@x.com"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO user_passwords").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.CreateUser(context.Background(), user, "hash")
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
	expectationsMet(t, mock)
}

func TestStore_GetUserByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now().UTC()
	locked := now.Add(time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE lower(email) = lower($1)")).
		WithArgs("A@x.com").
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow(id.String(), "a@x.com", "A", true, 3, locked, now, now, nil))

	user, err := store.GetUserByEmail(context.Background(), "A@x.com")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if user.ID != id || !user.EmailVerified || user.FailedLoginAttempts != 3 {
		t.Errorf("unexpected user: %+v", user)
	}
	if user.LockedUntil == nil || !user.LockedUntil.Equal(locked) {
		t.Errorf("LockedUntil = %v, want %v", user.LockedUntil, locked)
	}
	if user.DeletedAt != nil {
		t.Errorf("DeletedAt = %v, want nil", user.DeletedAt)
	}
	expectationsMet(t, mock)
}

func TestStore_GetUser_Errors(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM users").WillReturnRows(sqlmock.NewRows(userRowColumns))
	if _, err := store.GetUserByID(context.Background(), uuid.New()); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}

	mock.ExpectQuery("FROM users").WillReturnError(sql.ErrConnDone)
	_, err := store.GetUserByID(context.Background(), uuid.New())
	if !errors.Is(err, domain.ErrStoreUnavailable) || !errors.Is(err, sql.ErrConnDone) {
		t.Errorf("err = %v, want ErrStoreUnavailable wrapping the cause", err)
	}
	expectationsMet(t, mock)
}

func TestStore_SetEmailVerified_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("SET email_verified = TRUE").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.SetEmailVerified(context.Background(), uuid.New()); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestStore_RecordFailedLogin(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	policy := domain.LockoutPolicy{MaxFailedAttempts: 5, Duration: 30 * time.Minute}
	until := now.Add(30 * time.Minute)

	mock.ExpectQuery("RETURNING failed_login_attempts, locked_until").
		WithArgs(id, now, 5, until).
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts", "locked_until"}).AddRow(5, until))

	state, err := store.RecordFailedLogin(context.Background(), id, now, policy)
	if err != nil {
		t.Fatalf("RecordFailedLogin failed: %v", err)
	}
	if state.FailedAttempts != 5 || !state.LockedAt(now) {
		t.Errorf("state = %+v", state)
	}

	mock.ExpectQuery("RETURNING failed_login_attempts").
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts", "locked_until"}))
	if _, err := store.RecordFailedLogin(context.Background(), id, now, policy); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestStore_CreateToken_RetiresActiveTokens(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	token := &domain.VerificationToken{
		ID: uuid.New(), UserID: uuid.New(), TokenHash: "hash",
		Kind: domain.TokenKindPasswordReset, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE verification_tokens").
		WithArgs(token.UserID, "password_reset", now).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO verification_tokens").
		WithArgs(token.ID, token.UserID, "hash", "password_reset", now, token.ExpiresAt, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.CreateToken(context.Background(), token); err != nil {
		t.Fatalf("CreateToken failed: %v", err)
	}
	expectationsMet(t, mock)
}

func TestStore_GetTokenByHash(t *testing.T) {
	store, mock := newMockStore(t)
	id, userID := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("FROM verification_tokens").
		WithArgs("hash").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "token_hash", "kind", "created_at", "expires_at", "consumed_at", "metadata",
		}).AddRow(id.String(), userID.String(), "hash", "email_confirmation", now, now.Add(time.Hour), nil, nil))

	tok, err := store.GetTokenByHash(context.Background(), "hash")
	if err != nil {
		t.Fatalf("GetTokenByHash failed: %v", err)
	}
	if tok.ID != id || tok.UserID != userID || tok.Kind != domain.TokenKindEmailConfirmation || tok.IsConsumed() {
		t.Errorf("unexpected token: %+v", tok)
	}

	mock.ExpectQuery("FROM verification_tokens").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := store.GetTokenByHash(context.Background(), "missing"); !errors.Is(err, domain.ErrVerificationTokenNotFound) {
		t.Errorf("err = %v, want ErrVerificationTokenNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestStore_ConsumeToken(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectExec("WHERE id = \\$1 AND consumed_at IS NULL").
		WithArgs(id, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("WHERE id = \\$1 AND consumed_at IS NULL").
		WithArgs(id, now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.ConsumeToken(context.Background(), id, now)
	if err != nil || !ok {
		t.Fatalf("first ConsumeToken = %v, %v; want true", ok, err)
	}
	ok, err = store.ConsumeToken(context.Background(), id, now)
	if err != nil || ok {
		t.Fatalf("second ConsumeToken = %v, %v; want false", ok, err)
	}
	expectationsMet(t, mock)
}

func TestStore_ConsumeTokenAndSetPassword(t *testing.T) {
	tokenID, userID := uuid.New(), uuid.New()
	now := time.Now()

	tests := []struct {
		name   string
		expect func(mock sqlmock.Sqlmock)
		wantOK bool
		// wantErr is checked with errors.Is when set.
		wantErr error
	}{
		{
			name: "token and password written together",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("UPDATE verification_tokens").WithArgs(tokenID, now).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("UPDATE user_passwords").WithArgs(userID, "hash").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			wantOK: true,
		},
		{
			name: "already consumed leaves the password alone",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("UPDATE verification_tokens").WithArgs(tokenID, now).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit()
			},
		},
		{
			name: "password update failure rolls back the token",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("UPDATE verification_tokens").WithArgs(tokenID, now).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("UPDATE user_passwords").WithArgs(userID, "hash").WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			wantErr: domain.ErrStoreUnavailable,
		},
		{
			name: "missing password row rolls back the token",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("UPDATE verification_tokens").WithArgs(tokenID, now).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("UPDATE user_passwords").WithArgs(userID, "hash").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			wantErr: domain.ErrUserNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.expect(mock)

			ok, err := store.ConsumeTokenAndSetPassword(context.Background(), tokenID, userID, "hash", now)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("ConsumeTokenAndSetPassword failed: %v", err)
			}
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			expectationsMet(t, mock)
		})
	}
}

func TestStore_Sessions(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	session := &domain.Session{
		ID: uuid.New(), UserID: uuid.New(), TokenHash: "hash", Persistent: true,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(session.ID, session.UserID, "hash", true, now, session.ExpiresAt, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	mock.ExpectQuery("FROM sessions").
		WithArgs("hash").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "token_hash", "persistent", "created_at", "expires_at", "revoked_at", "last_seen_at", "metadata",
		}).AddRow(session.ID.String(), session.UserID.String(), "hash", true, now, session.ExpiresAt, nil, nil, nil))
	got, err := store.GetSessionByTokenHash(context.Background(), "hash")
	if err != nil {
		t.Fatalf("GetSessionByTokenHash failed: %v", err)
	}
	if got.ID != session.ID || !got.Persistent || got.Metadata != nil {
		t.Errorf("unexpected session: %+v", got)
	}

	mock.ExpectQuery("FROM sessions WHERE id = \\$1").
		WithArgs(session.ID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "token_hash", "persistent", "created_at", "expires_at", "revoked_at", "last_seen_at", "metadata",
		}).AddRow(session.ID.String(), session.UserID.String(), "hash", true, now, session.ExpiresAt, now, nil, nil))
	byID, err := store.GetSessionByID(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSessionByID failed: %v", err)
	}
	if byID.RevokedAt == nil {
		t.Error("GetSessionByID should return revoked sessions")
	}

	mock.ExpectQuery("FROM sessions WHERE id = \\$1").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := store.GetSessionByID(context.Background(), uuid.New()); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}

	// Revoking is idempotent: zero affected rows is fine.
	mock.ExpectExec("UPDATE sessions").WithArgs("hash", now).WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.RevokeSessionByTokenHash(context.Background(), "hash", now); err != nil {
		t.Errorf("RevokeSessionByTokenHash failed: %v", err)
	}

	mock.ExpectExec("UPDATE sessions").WithArgs(session.UserID, now).WillReturnResult(sqlmock.NewResult(0, 3))
	if err := store.RevokeUserSessions(context.Background(), session.UserID, now); err != nil {
		t.Errorf("RevokeUserSessions failed: %v", err)
	}
	expectationsMet(t, mock)
}

func TestStore_Cleanup(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Now()

	mock.ExpectExec("DELETE FROM sessions").WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("DELETE FROM verification_tokens").WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.Cleanup(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if n != 6 {
		t.Errorf("Cleanup() = %d, want 6", n)
	}
	expectationsMet(t, mock)
}

func TestMigrate(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	orig := gooseUp
	defer func() { gooseUp = orig }()

	var called bool
	gooseUp = func(ctx context.Context, got *sql.DB, dir string) error {
		called = got == db && dir == "."
		return nil
	}
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if !called {
		t.Error("goose was not invoked with the embedded migrations")
	}

	gooseUp = func(context.Context, *sql.DB, string) error { return errors.New("boom") }
	if err := Migrate(context.Background(), db); err == nil {
		t.Error("Migrate should surface goose errors")
	}
}
