package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/tendant/identity-manager/internal/config"
	"github.com/tendant/identity-manager/internal/http/features/account"
	"github.com/tendant/identity-manager/internal/http/features/pages"
	"github.com/tendant/identity-manager/internal/http/features/session"
	"github.com/tendant/identity-manager/internal/http/middleware"
	"github.com/tendant/identity-manager/internal/httputil"
	"github.com/tendant/identity-manager/pkg/auth"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger   *slog.Logger
	Accounts *auth.AccountService
	Sessions auth.SessionIssuer
	// Refresher is set only for session backends that mint access tokens.
	Refresher          session.Refresher
	SecurityHeaders    config.SecurityHeadersConfig
	Validation         config.ValidationConfig
	CookieSecure       bool
	CORSAllowedOrigins []string
	// HealthCheck reports whether the store is reachable.
	HealthCheck func(ctx context.Context) error
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) (http.Handler, error) {
	r := chi.NewRouter()

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Client-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Apply global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestInfo)
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	r.Use(middleware.RequestSizeLimit(cfg.Validation.MaxRequestBodySize))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.HealthCheck != nil {
			if err := cfg.HealthCheck(r.Context()); err != nil {
				cfg.Logger.Error("health check failed", "error", err)
				httputil.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	cookieConfig := httputil.DefaultCookieConfig()
	cookieConfig.Secure = cfg.CookieSecure

	account.NewHandler(cfg.Logger, cfg.Accounts, cookieConfig).RegisterRoutes(r, cfg.Sessions)

	revoker, _ := cfg.Sessions.(auth.SessionRevoker)
	session.NewHandler(cfg.Refresher, revoker, cookieConfig).RegisterRoutes(r, cfg.Sessions)

	pagesHandler, err := pages.NewHandler(cfg.Logger, cfg.Accounts)
	if err != nil {
		return nil, err
	}
	pagesHandler.RegisterRoutes(r)

	return r, nil
}
