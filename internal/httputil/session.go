package httputil

import (
	"net/http"
	"time"

	"github.com/tendant/identity-manager/pkg/domain"
)

// SessionResponse is the body returned after a sign-in. Tokens are only
// included for mobile clients; browsers get them as cookies.
type SessionResponse struct {
	AccessToken  string    `json:"access_token,omitempty"`
	SessionToken string    `json:"session_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Persistent   bool      `json:"persistent"`
	RedirectURL  string    `json:"redirect_url,omitempty"`
}

// NewSessionResponse hands a session to the client: as cookies for web
// clients, in the returned body for mobile clients.
func NewSessionResponse(w http.ResponseWriter, r *http.Request, ref *domain.SessionRef, cfg CookieConfig) SessionResponse {
	resp := SessionResponse{
		TokenType:  ref.TokenType,
		ExpiresIn:  ref.AccessExpiresIn,
		ExpiresAt:  ref.ExpiresAt,
		Persistent: ref.Persistent,
	}
	if IsMobileClient(r) {
		resp.AccessToken = ref.AccessToken
		resp.SessionToken = ref.Token
		return resp
	}
	SetSessionCookies(w, ref, time.Now(), cfg)
	return resp
}

// WriteSession writes a session as cookies (web) or JSON (mobile).
func WriteSession(w http.ResponseWriter, r *http.Request, ref *domain.SessionRef, status int, cfg CookieConfig, redirectURL string) {
	resp := NewSessionResponse(w, r, ref, cfg)
	resp.RedirectURL = redirectURL
	JSON(w, status, resp)
}
