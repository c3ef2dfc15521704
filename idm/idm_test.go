package idm

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestNew_RequiresSecretForJWTSessions(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{"missing", ""},
		{"too short", "short"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), Config{JWTSecret: tt.secret, Logger: discardLogger})
			if err == nil {
				t.Fatal("New() error = nil, want error")
			}
		})
	}
}

func TestNew_MemoryStore(t *testing.T) {
	ctx := context.Background()
	accounts, err := New(ctx, Config{JWTSecret: testSecret, Logger: discardLogger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	res, err := accounts.Accounts().Register(ctx, "ada@example.com", "lovelace", "Ada")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	ref, err := accounts.Accounts().Login(ctx, "ada@example.com", "lovelace", false)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(accounts.AuthMiddleware())
		r.Get("/protected", func(w http.ResponseWriter, r *http.Request) {
			userID, ok := GetUserIDFromContext(r.Context())
			if !ok || userID != res.UserID {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+ref.AccessToken)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("protected status = %d, want 204", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	accounts.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}

	if _, err := accounts.Cleanup(ctx); err != nil {
		t.Errorf("Cleanup() error = %v", err)
	}
}

func TestNew_RedisSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	accounts, err := New(ctx, Config{Redis: client, Logger: discardLogger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := accounts.Accounts().Register(ctx, "grace@example.com", "hopper", "Grace"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	ref, err := accounts.Accounts().Login(ctx, "grace@example.com", "hopper", true)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if ref.AccessToken != "" {
		t.Errorf("redis session minted an access token")
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+ref.Token)
	rec := httptest.NewRecorder()
	accounts.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("/v1/me status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "grace@example.com") {
		t.Errorf("/v1/me body = %s", rec.Body.String())
	}

	// Refresh is only served for sessions that mint access tokens.
	rec = httptest.NewRecorder()
	accounts.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/session/refresh", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("refresh status = %d, want 404", rec.Code)
	}
}

func TestRunCleanup_StopsOnCancel(t *testing.T) {
	accounts, err := New(context.Background(), Config{JWTSecret: testSecret, Logger: discardLogger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		accounts.RunCleanup(ctx, time.Hour)
		close(done)
	}()
	cancel()
	<-done
}

var schemaQuery = regexp.QuoteMeta("FROM information_schema.tables")

func TestValidateSchema(t *testing.T) {
	tables := []string{"users", "user_passwords", "verification_tokens", "sessions"}

	t.Run("all tables present", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()

		for _, table := range tables {
			mock.ExpectQuery(schemaQuery).
				WithArgs(table).
				WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow(table))
		}

		if err := validateSchema(context.Background(), db); err != nil {
			t.Errorf("validateSchema() error = %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("missing table", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()

		mock.ExpectQuery(schemaQuery).
			WithArgs("users").
			WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("users"))
		mock.ExpectQuery(schemaQuery).
			WithArgs("user_passwords").
			WillReturnRows(sqlmock.NewRows([]string{"table_name"}))

		err = validateSchema(context.Background(), db)
		if err == nil || !strings.Contains(err.Error(), "user_passwords") {
			t.Errorf("validateSchema() error = %v, want missing user_passwords", err)
		}
	})
}
