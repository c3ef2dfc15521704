package account

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/identity-manager/internal/http/middleware"
	"github.com/tendant/identity-manager/internal/httputil"
	"github.com/tendant/identity-manager/pkg/auth"
	"github.com/tendant/identity-manager/pkg/domain"
)

const (
	checkEmailMessage   = "If an account exists with that email, a message has been sent"
	resetSuccessMessage = "Password reset successful"
	confirmedMessage    = "Thank you for confirming your email"
)

// Handler handles the account lifecycle endpoints.
type Handler struct {
	logger       *slog.Logger
	accounts     *auth.AccountService
	cookieConfig httputil.CookieConfig
}

// NewHandler creates a new account handler.
func NewHandler(logger *slog.Logger, accounts *auth.AccountService, cookieConfig httputil.CookieConfig) *Handler {
	return &Handler{
		logger:       logger,
		accounts:     accounts,
		cookieConfig: cookieConfig,
	}
}

// RegisterRequest represents a registration request.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// RegisterResponse represents a registration response.
type RegisterResponse struct {
	UserID               string                    `json:"user_id"`
	ConfirmationRequired bool                      `json:"confirmation_required"`
	Session              *httputil.SessionResponse `json:"session,omitempty"`
}

// LoginRequest represents a login request.
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
	ReturnURL  string `json:"return_url,omitempty"`
}

// LogoutRequest carries the session token for mobile clients.
type LogoutRequest struct {
	SessionToken string `json:"session_token"`
}

// EmailRequest is the body of forgot-password and resend-confirmation.
type EmailRequest struct {
	Email string `json:"email"`
}

// ConfirmEmailRequest represents an email confirmation.
type ConfirmEmailRequest struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// ResetPasswordRequest represents a password reset.
type ResetPasswordRequest struct {
	Email       string `json:"email"`
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// MessageResponse represents a simple message response.
type MessageResponse struct {
	Message string `json:"message"`
}

// LockedResponse is returned while an account is locked.
type LockedResponse struct {
	Error       string    `json:"error"`
	LockedUntil time.Time `json:"locked_until"`
}

// PasswordPolicyResponse describes the password rules.
type PasswordPolicyResponse struct {
	Requirements string `json:"requirements"`
}

// Register handles user registration.
// POST /v1/account/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.accounts.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.writeError(w, r, err, "registration failed")
		return
	}

	resp := RegisterResponse{
		UserID:               result.UserID.String(),
		ConfirmationRequired: result.ConfirmationRequired,
	}
	if result.Session != nil {
		session := httputil.NewSessionResponse(w, r, result.Session, h.cookieConfig)
		resp.Session = &session
	}
	httputil.JSON(w, http.StatusCreated, resp)
}

// Login handles user login.
// POST /v1/account/login
//
// For web clients: Sets HttpOnly cookies, returns minimal response.
// For mobile clients (X-Client-Type: mobile): Returns tokens in response body.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	if req.Email == "" || req.Password == "" {
		httputil.Error(w, http.StatusBadRequest, "email and password are required")
		return
	}

	ref, err := h.accounts.Login(r.Context(), req.Email, req.Password, req.RememberMe)
	if err != nil {
		h.writeError(w, r, err, "authentication failed")
		return
	}

	redirect := "/"
	if httputil.IsLocalURL(req.ReturnURL) {
		redirect = req.ReturnURL
	}
	httputil.WriteSession(w, r, ref, http.StatusOK, h.cookieConfig, redirect)
}

// Logout revokes the current session. It succeeds for unknown or already
// revoked sessions.
// POST /v1/account/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var token string

	if httputil.IsMobileClient(r) {
		var req LogoutRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		token = req.SessionToken
	} else {
		token, _ = httputil.GetSessionTokenFromCookie(r)
	}

	if err := h.accounts.Logout(r.Context(), token); err != nil {
		h.logger.Error("failed to revoke session", "error", err)
	}

	if !httputil.IsMobileClient(r) {
		httputil.ClearSessionCookies(w, h.cookieConfig)
	}

	w.WriteHeader(http.StatusNoContent)
}

// ConfirmEmail confirms an email address.
// POST /v1/account/confirm-email
func (h *Handler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	var req ConfirmEmailRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil || req.Token == "" {
		httputil.Error(w, http.StatusBadRequest, domain.ErrInvalidOrExpiredToken.Error())
		return
	}

	if err := h.accounts.ConfirmEmail(r.Context(), userID, req.Token); err != nil {
		h.writeError(w, r, err, "email confirmation failed")
		return
	}

	httputil.JSON(w, http.StatusOK, MessageResponse{Message: confirmedMessage})
}

// ResendConfirmation mails a new confirmation link.
// POST /v1/account/resend-confirmation
func (h *Handler) ResendConfirmation(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		httputil.Error(w, http.StatusBadRequest, "email is required")
		return
	}

	h.accounts.ResendConfirmation(r.Context(), req.Email)
	httputil.JSON(w, http.StatusOK, MessageResponse{Message: checkEmailMessage})
}

// ForgotPassword mails a password reset link. The response is the same
// whether or not the email is registered.
// POST /v1/account/forgot-password
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		httputil.Error(w, http.StatusBadRequest, "email is required")
		return
	}

	h.accounts.ForgotPassword(r.Context(), req.Email)
	httputil.JSON(w, http.StatusOK, MessageResponse{Message: checkEmailMessage})
}

// ResetPassword sets a new password using a reset token.
// POST /v1/account/reset-password
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Token == "" {
		httputil.Error(w, http.StatusBadRequest, "email and token are required")
		return
	}

	if err := h.accounts.ResetPassword(r.Context(), req.Email, req.Token, req.NewPassword); err != nil {
		h.writeError(w, r, err, "password reset failed")
		return
	}

	httputil.JSON(w, http.StatusOK, MessageResponse{Message: resetSuccessMessage})
}

// PasswordPolicy describes the password requirements.
// GET /v1/account/password-policy
func (h *Handler) PasswordPolicy(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, PasswordPolicyResponse{Requirements: h.accounts.PasswordRequirements()})
}

// GetMe returns the signed-in user's profile.
// GET /v1/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.accounts.GetUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err, "failed to get user")
		return
	}

	httputil.JSON(w, http.StatusOK, UserResponse{
		ID:            user.ID.String(),
		Email:         user.Email,
		Name:          user.Name,
		EmailVerified: user.EmailVerified,
	})
}

// UserResponse represents the user profile response.
type UserResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

// writeError maps account errors to HTTP responses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var verrs domain.ValidationErrors
	var verr *domain.ValidationError
	var locked *domain.LockedOutError

	switch {
	case errors.As(err, &verrs):
		httputil.ValidationError(w, verrs.Fields())
	case errors.As(err, &verr):
		httputil.ValidationError(w, map[string]string{verr.Field: verr.Message})
	case errors.Is(err, domain.ErrUserAlreadyExists):
		httputil.Error(w, http.StatusConflict, "user already exists")
	case errors.Is(err, domain.ErrInvalidOrExpiredToken):
		httputil.Error(w, http.StatusBadRequest, domain.ErrInvalidOrExpiredToken.Error())
	case errors.Is(err, domain.ErrInvalidCredentials):
		httputil.Error(w, http.StatusUnauthorized, "invalid email or password")
	case errors.As(err, &locked):
		httputil.JSON(w, http.StatusForbidden, LockedResponse{
			Error:       "account temporarily locked due to too many failed login attempts",
			LockedUntil: locked.Until.UTC(),
		})
	case errors.Is(err, domain.ErrEmailNotConfirmed):
		httputil.Error(w, http.StatusForbidden, "email confirmation required. Please check your email for the confirmation link")
	case errors.Is(err, domain.ErrUserNotFound):
		httputil.Error(w, http.StatusNotFound, "user not found")
	case errors.Is(err, domain.ErrStoreUnavailable):
		h.logger.ErrorContext(r.Context(), fallback, "error", err)
		httputil.Error(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		h.logger.ErrorContext(r.Context(), fallback, "error", err)
		httputil.Error(w, http.StatusInternalServerError, fallback)
	}
}
