package session

import (
	"github.com/go-chi/chi/v5"
	"github.com/tendant/identity-manager/internal/http/middleware"
)

// RegisterRoutes registers the session routes supported by the configured
// backend.
func (h *Handler) RegisterRoutes(r chi.Router, resolver middleware.TokenResolver) {
	if h.refresher != nil {
		r.Post("/v1/session/refresh", h.Refresh)
	}
	if h.revoker != nil {
		r.With(middleware.Auth(resolver)).Post("/v1/session/logout-all", h.LogoutAll)
	}
}
