package session

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/tendant/identity-manager/internal/http/middleware"
	"github.com/tendant/identity-manager/internal/httputil"
	"github.com/tendant/identity-manager/pkg/auth"
	"github.com/tendant/identity-manager/pkg/domain"
)

// Refresher mints a new access token for a live session.
type Refresher interface {
	Refresh(ctx context.Context, sessionToken string) (*domain.SessionRef, error)
}

// Handler handles session endpoints.
type Handler struct {
	refresher    Refresher
	revoker      auth.SessionRevoker
	cookieConfig httputil.CookieConfig
}

// NewHandler creates a new session handler. Either collaborator may be nil
// when the session backend does not support it.
func NewHandler(refresher Refresher, revoker auth.SessionRevoker, cookieConfig httputil.CookieConfig) *Handler {
	return &Handler{
		refresher:    refresher,
		revoker:      revoker,
		cookieConfig: cookieConfig,
	}
}

// RefreshRequest represents a token refresh request (for mobile clients).
type RefreshRequest struct {
	SessionToken string `json:"session_token"`
}

// Refresh issues a new access token for the current session.
// POST /v1/session/refresh
//
// For web clients: Reads session token from cookie, sets new cookies.
// For mobile clients: Reads/returns tokens in request/response body.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var sessionToken string

	if httputil.IsMobileClient(r) {
		var req RefreshRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		sessionToken = req.SessionToken
	} else {
		var ok bool
		sessionToken, ok = httputil.GetSessionTokenFromCookie(r)
		if !ok {
			httputil.Error(w, http.StatusUnauthorized, "session token not found")
			return
		}
	}

	if sessionToken == "" {
		httputil.Error(w, http.StatusBadRequest, "session_token is required")
		return
	}

	ref, err := h.refresher.Refresh(r.Context(), sessionToken)
	if err != nil {
		if auth.IsSessionError(err) {
			if !httputil.IsMobileClient(r) {
				httputil.ClearSessionCookies(w, h.cookieConfig)
			}
			httputil.Error(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "failed to refresh session")
		return
	}

	httputil.WriteSession(w, r, ref, http.StatusOK, h.cookieConfig, "")
}

// LogoutAll revokes all sessions for the current user.
// POST /v1/session/logout-all
// Requires authentication
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == uuid.Nil {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.revoker.RevokeAll(r.Context(), userID); err != nil {
		httputil.Error(w, http.StatusInternalServerError, "failed to logout all sessions")
		return
	}

	if !httputil.IsMobileClient(r) {
		httputil.ClearSessionCookies(w, h.cookieConfig)
	}

	w.WriteHeader(http.StatusNoContent)
}
