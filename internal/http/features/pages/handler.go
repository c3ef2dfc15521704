package pages

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/identity-manager/internal/httputil"
	"github.com/tendant/identity-manager/pkg/auth"
	"github.com/tendant/identity-manager/pkg/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

// Handler renders the pages that the mailed confirmation and reset links
// land on.
type Handler struct {
	logger    *slog.Logger
	accounts  *auth.AccountService
	templates *template.Template
}

// NewHandler creates a new pages handler.
func NewHandler(logger *slog.Logger, accounts *auth.AccountService) (*Handler, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &Handler{
		logger:    logger,
		accounts:  accounts,
		templates: tmpl,
	}, nil
}

// PageData holds data for template rendering.
type PageData struct {
	Title        string
	Message      string
	Error        string
	Fields       map[string]string
	Email        string
	Token        string
	Requirements string
}

// RegisterRoutes registers the link landing pages.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/auth/confirm-email", h.ConfirmEmail)
	r.Get("/auth/reset-password", h.ResetPasswordForm)
	r.Post("/auth/reset-password", h.ResetPassword)
}

// ConfirmEmail confirms the address named by the link and renders the
// outcome.
// GET /auth/confirm-email?user_id=...&token=...
func (h *Handler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	data := PageData{Title: "Confirm Email"}

	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	token := r.URL.Query().Get("token")
	if err != nil || token == "" {
		data.Error = "This confirmation link is invalid or has expired."
		h.render(w, http.StatusBadRequest, "confirm-email.html", data)
		return
	}

	if err := h.accounts.ConfirmEmail(r.Context(), userID, token); err != nil {
		status := http.StatusBadRequest
		data.Error = "This confirmation link is invalid or has expired."
		if !errors.Is(err, domain.ErrInvalidOrExpiredToken) {
			h.logger.ErrorContext(r.Context(), "email confirmation failed", "error", err)
			status = http.StatusInternalServerError
			data.Error = "Something went wrong. Please try again later."
		}
		h.render(w, status, "confirm-email.html", data)
		return
	}

	data.Message = "Thank you for confirming your email."
	h.render(w, http.StatusOK, "confirm-email.html", data)
}

// ResetPasswordForm renders the new-password form.
// GET /auth/reset-password?email=...&token=...
func (h *Handler) ResetPasswordForm(w http.ResponseWriter, r *http.Request) {
	data := PageData{
		Title:        "Reset Password",
		Email:        r.URL.Query().Get("email"),
		Token:        r.URL.Query().Get("token"),
		Requirements: h.accounts.PasswordRequirements(),
	}
	if data.Email == "" || data.Token == "" {
		data.Error = "This reset link is invalid or has expired."
		h.render(w, http.StatusBadRequest, "reset-password.html", data)
		return
	}
	h.render(w, http.StatusOK, "reset-password.html", data)
}

// ResetPassword handles the submitted form.
// POST /auth/reset-password
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		status := http.StatusBadRequest
		if httputil.IsBodyTooLarge(err) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	data := PageData{
		Title:        "Reset Password",
		Email:        r.PostForm.Get("email"),
		Token:        r.PostForm.Get("token"),
		Requirements: h.accounts.PasswordRequirements(),
	}

	err := h.accounts.ResetPassword(r.Context(), data.Email, data.Token, r.PostForm.Get("new_password"))
	if err == nil {
		data.Message = "Your password has been reset. You can now sign in."
		data.Token = ""
		h.render(w, http.StatusOK, "reset-password.html", data)
		return
	}

	var verrs domain.ValidationErrors
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verrs):
		data.Fields = verrs.Fields()
	case errors.As(err, &verr):
		data.Fields = map[string]string{verr.Field: verr.Message}
	case errors.Is(err, domain.ErrInvalidOrExpiredToken):
		data.Error = "This reset link is invalid or has expired."
	default:
		h.logger.ErrorContext(r.Context(), "password reset failed", "error", err)
		data.Error = "Something went wrong. Please try again later."
		h.render(w, http.StatusInternalServerError, "reset-password.html", data)
		return
	}
	h.render(w, http.StatusBadRequest, "reset-password.html", data)
}

func (h *Handler) render(w http.ResponseWriter, status int, tmpl string, data PageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.ExecuteTemplate(w, tmpl, data); err != nil {
		h.logger.Error("failed to render page", "template", tmpl, "error", err)
	}
}
