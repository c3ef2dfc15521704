package httputil

import (
	"net/http"
	"strings"
	"time"

	"github.com/tendant/identity-manager/pkg/domain"
)

// Cookie names
const (
	SessionCookieName     = "session_token"
	AccessTokenCookieName = "access_token"
)

// CookieConfig holds cookie configuration.
type CookieConfig struct {
	Domain   string
	Path     string
	Secure   bool // Set to true in production (HTTPS)
	SameSite http.SameSite
}

// DefaultCookieConfig returns default cookie configuration.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Path:     "/",
		Secure:   false, // Set to true in production
		SameSite: http.SameSiteLaxMode,
	}
}

// SetSessionCookies stores the session handle, and the access token when the
// issuer minted one, in HttpOnly cookies. A persistent session survives a
// browser restart; any other session gets a browser-session cookie.
func SetSessionCookies(w http.ResponseWriter, ref *domain.SessionRef, now time.Time, cfg CookieConfig) {
	maxAge := 0
	if ref.Persistent {
		maxAge = int(ref.ExpiresAt.Sub(now).Seconds())
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    ref.Token,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})

	if ref.AccessToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     AccessTokenCookieName,
			Value:    ref.AccessToken,
			Path:     cfg.Path,
			Domain:   cfg.Domain,
			MaxAge:   ref.AccessExpiresIn,
			HttpOnly: true,
			Secure:   cfg.Secure,
			SameSite: cfg.SameSite,
		})
	}
}

// ClearSessionCookies expires both session cookies.
func ClearSessionCookies(w http.ResponseWriter, cfg CookieConfig) {
	for _, name := range []string{SessionCookieName, AccessTokenCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     cfg.Path,
			Domain:   cfg.Domain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   cfg.Secure,
			SameSite: cfg.SameSite,
		})
	}
}

// GetSessionTokenFromCookie extracts the session token from its cookie.
func GetSessionTokenFromCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// GetAccessTokenFromCookie extracts access token from cookie.
func GetAccessTokenFromCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(AccessTokenCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// IsMobileClient checks if request is from a mobile client.
// Mobile clients should set header: X-Client-Type: mobile
func IsMobileClient(r *http.Request) bool {
	return r.Header.Get("X-Client-Type") == "mobile"
}

// IsLocalURL reports whether u is a same-site path that is safe to
// redirect to after sign-in.
func IsLocalURL(u string) bool {
	if u == "" || u[0] != '/' {
		return false
	}
	if len(u) > 1 && (u[1] == '/' || u[1] == '\\') {
		return false
	}
	return !strings.ContainsAny(u, "\r\n\t")
}
