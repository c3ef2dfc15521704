package account

import (
	"github.com/go-chi/chi/v5"
	"github.com/tendant/identity-manager/internal/http/middleware"
)

// RegisterRoutes registers the account routes. GET /v1/me requires a
// session resolved by resolver.
func (h *Handler) RegisterRoutes(r chi.Router, resolver middleware.TokenResolver) {
	r.Route("/v1/account", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Post("/confirm-email", h.ConfirmEmail)
		r.Post("/resend-confirmation", h.ResendConfirmation)
		r.Post("/forgot-password", h.ForgotPassword)
		r.Post("/reset-password", h.ResetPassword)
		r.Get("/password-policy", h.PasswordPolicy)
	})

	r.With(middleware.Auth(resolver)).Get("/v1/me", h.GetMe)
}
