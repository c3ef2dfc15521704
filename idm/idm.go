// Package idm wires the account lifecycle into a ready-to-mount HTTP
// handler: registration with email confirmation, login with lockout,
// logout and password recovery.
//
// Basic usage with Postgres:
//
//	db, _ := sql.Open("postgres", "postgres://localhost/myapp?sslmode=disable")
//
//	accounts, err := idm.New(ctx, idm.Config{
//	    DB:        db,
//	    Migrate:   true,
//	    JWTSecret: "your-secret-key-at-least-32-chars",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	http.ListenAndServe(":8080", accounts.Handler())
//
// Without a DB the accounts live in memory, which is only useful for tests
// and demos. With a Redis client, sessions are kept in Redis instead of
// the store and no access tokens are minted.
package idm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/identity-manager/internal/config"
	apphttp "github.com/tendant/identity-manager/internal/http"
	"github.com/tendant/identity-manager/internal/http/features/session"
	"github.com/tendant/identity-manager/internal/http/middleware"
	"github.com/tendant/identity-manager/internal/notification"
	"github.com/tendant/identity-manager/pkg/auth"
	"github.com/tendant/identity-manager/pkg/domain"
	"github.com/tendant/identity-manager/pkg/repository"
	"github.com/tendant/identity-manager/pkg/repository/memory"
)

// Store is everything the account lifecycle persists.
type Store interface {
	auth.CredentialStore
	auth.LockoutStore
	auth.TokenStore
	auth.SessionStore
	// Cleanup deletes sessions and tokens that expired before cutoff.
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// Config holds the configuration for the IDM library.
type Config struct {
	// DB is the Postgres connection. Nil keeps accounts in memory.
	DB *sql.DB

	// Migrate applies the embedded migrations on New. When false the
	// schema is only checked.
	Migrate bool

	// Redis switches sessions to a Redis backend.
	Redis *redis.Client

	// JWTSecret signs access tokens (required without Redis, min 32 chars).
	JWTSecret string

	// JWTIssuer is the issuer claim in access tokens (default: "identity-manager").
	JWTIssuer string

	AccessTokenTTL time.Duration
	SessionTTL     time.Duration
	RememberMeTTL  time.Duration

	Account        auth.AccountConfig
	Lockout        domain.LockoutPolicy
	PasswordPolicy *auth.PasswordPolicy

	// Notifier delivers confirmation and reset mail (default: log only).
	Notifier auth.NotificationSender

	SecurityHeaders    config.SecurityHeadersConfig
	Validation         config.ValidationConfig
	CookieSecure       bool
	CORSAllowedOrigins []string

	// Logger is the structured logger (default: JSON to stdout).
	Logger *slog.Logger
}

// IDM is the main identity management instance.
type IDM struct {
	config   Config
	store    Store
	sessions auth.SessionIssuer
	accounts *auth.AccountService
	handler  http.Handler
}

// New creates a new IDM instance with the given configuration.
func New(ctx context.Context, cfg Config) (*IDM, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	var store Store
	if cfg.DB != nil {
		if cfg.Migrate {
			if err := repository.Migrate(ctx, cfg.DB); err != nil {
				return nil, fmt.Errorf("idm: %w", err)
			}
		} else if err := validateSchema(ctx, cfg.DB); err != nil {
			return nil, err
		}
		store = repository.NewStore(cfg.DB)
	} else {
		cfg.Logger.Warn("no database configured, accounts are kept in memory")
		store = memory.New()
	}

	sessionConfig := auth.SessionConfig{
		AccessTokenTTL: cfg.AccessTokenTTL,
		SessionTTL:     cfg.SessionTTL,
		RememberMeTTL:  cfg.RememberMeTTL,
		JWTSecret:      []byte(cfg.JWTSecret),
		Issuer:         cfg.JWTIssuer,
	}

	var sessions auth.SessionIssuer
	var refresher session.Refresher
	if cfg.Redis != nil {
		sessions = auth.NewRedisSessionIssuer(cfg.Redis, sessionConfig)
	} else {
		jwtIssuer := auth.NewJWTSessionIssuer(sessionConfig, store)
		sessions = jwtIssuer
		refresher = jwtIssuer
	}

	accounts := auth.NewAccountService(cfg.Account, auth.AccountDeps{
		Store:    store,
		Tokens:   auth.NewTokenIssuer(store),
		Lockout:  auth.NewLockoutTracker(store, cfg.Lockout),
		Sessions: sessions,
		Notifier: cfg.Notifier,
		Policy:   cfg.PasswordPolicy,
		Logger:   cfg.Logger,
	})

	handler, err := apphttp.NewRouter(apphttp.RouterConfig{
		Logger:             cfg.Logger,
		Accounts:           accounts,
		Sessions:           sessions,
		Refresher:          refresher,
		SecurityHeaders:    cfg.SecurityHeaders,
		Validation:         cfg.Validation,
		CookieSecure:       cfg.CookieSecure,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		HealthCheck:        store.Ping,
	})
	if err != nil {
		return nil, fmt.Errorf("idm: failed to build router: %w", err)
	}

	return &IDM{
		config:   cfg,
		store:    store,
		sessions: sessions,
		accounts: accounts,
		handler:  handler,
	}, nil
}

// Handler returns the HTTP handler serving every account route.
//
// Routes:
//
//	POST /v1/account/register             - Register with email/password
//	POST /v1/account/login                - Login with email/password
//	POST /v1/account/logout               - Logout (revoke session)
//	POST /v1/account/confirm-email        - Confirm email with a mailed token
//	POST /v1/account/resend-confirmation  - Mail a new confirmation link
//	POST /v1/account/forgot-password      - Mail a password reset link
//	POST /v1/account/reset-password       - Set a new password with a reset token
//	GET  /v1/account/password-policy      - Describe password requirements
//	GET  /v1/me                           - Get current user (protected)
//	POST /v1/session/refresh              - New access token (JWT sessions only)
//	POST /v1/session/logout-all           - Revoke every session (protected)
//	GET  /auth/confirm-email              - Landing page of the confirmation link
//	GET  /auth/reset-password             - Landing page of the reset link
//	GET  /health                          - Store health
func (i *IDM) Handler() http.Handler {
	return i.handler
}

// Accounts returns the account service for advanced usage.
func (i *IDM) Accounts() *auth.AccountService {
	return i.accounts
}

// AuthMiddleware returns middleware that requires a live session.
// Use this to protect your own routes:
//
//	r.Group(func(r chi.Router) {
//	    r.Use(accounts.AuthMiddleware())
//	    r.Get("/protected", handler)
//	})
func (i *IDM) AuthMiddleware() func(http.Handler) http.Handler {
	return middleware.Auth(i.sessions)
}

// GetUserIDFromContext extracts the user ID from a context.
// Use after AuthMiddleware.
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	return middleware.GetUserID(ctx)
}

// Cleanup deletes expired sessions and tokens once.
func (i *IDM) Cleanup(ctx context.Context) (int64, error) {
	return i.store.Cleanup(ctx, time.Now())
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (i *IDM) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := i.Cleanup(ctx)
			if err != nil {
				i.config.Logger.Error("cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				i.config.Logger.Info("expired records deleted", "count", n)
			}
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Redis == nil {
		if cfg.JWTSecret == "" {
			return errors.New("idm: JWTSecret is required")
		}
		if len(cfg.JWTSecret) < 32 {
			return errors.New("idm: JWTSecret must be at least 32 characters")
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "identity-manager"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notification.NewLogSender(cfg.Logger)
	}
}

// validateSchema checks that required database tables exist.
func validateSchema(ctx context.Context, db *sql.DB) error {
	requiredTables := []string{"users", "user_passwords", "verification_tokens", "sessions"}

	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = $1
	`

	for _, table := range requiredTables {
		var name string
		err := db.QueryRowContext(ctx, query, table).Scan(&name)
		if err == sql.ErrNoRows {
			return fmt.Errorf("idm: missing table '%s' - run migrations first", table)
		}
		if err != nil {
			return fmt.Errorf("idm: failed to check schema: %w", err)
		}
	}

	return nil
}
