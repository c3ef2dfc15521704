package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tendant/identity-manager/pkg/domain"
)

func TestJSONAndError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusConflict, "user already exists")

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "user already exists" || body.Fields != nil {
		t.Errorf("body = %+v", body)
	}
}

func TestValidationError(t *testing.T) {
	rec := httptest.NewRecorder()
	ValidationError(rec, map[string]string{"email": "invalid email address format"})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Fields["email"] != "invalid email address format" {
		t.Errorf("fields = %v", body.Fields)
	}
}

func TestSetSessionCookies(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		ref        domain.SessionRef
		wantMaxAge int
		wantAccess bool
	}{
		{
			name:       "browser session",
			ref:        domain.SessionRef{Token: "opaque", ExpiresAt: now.Add(12 * time.Hour)},
			wantMaxAge: 0,
		},
		{
			name:       "persistent session",
			ref:        domain.SessionRef{Token: "opaque", Persistent: true, ExpiresAt: now.Add(14 * 24 * time.Hour)},
			wantMaxAge: 14 * 24 * 3600,
		},
		{
			name:       "with access token",
			ref:        domain.SessionRef{Token: "opaque", AccessToken: "a.b.c", AccessExpiresIn: 900, ExpiresAt: now.Add(time.Hour)},
			wantMaxAge: 0,
			wantAccess: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			SetSessionCookies(rec, &tt.ref, now, DefaultCookieConfig())

			cookies := map[string]*http.Cookie{}
			for _, c := range rec.Result().Cookies() {
				cookies[c.Name] = c
			}

			session, ok := cookies[SessionCookieName]
			if !ok {
				t.Fatal("session cookie not set")
			}
			if session.Value != "opaque" || !session.HttpOnly {
				t.Errorf("session cookie = %+v", session)
			}
			if session.MaxAge != tt.wantMaxAge {
				t.Errorf("MaxAge = %d, want %d", session.MaxAge, tt.wantMaxAge)
			}

			access, ok := cookies[AccessTokenCookieName]
			if ok != tt.wantAccess {
				t.Fatalf("access cookie present = %v, want %v", ok, tt.wantAccess)
			}
			if ok && access.MaxAge != 900 {
				t.Errorf("access MaxAge = %d, want 900", access.MaxAge)
			}
		})
	}
}

func TestClearSessionCookies(t *testing.T) {
	rec := httptest.NewRecorder()
	ClearSessionCookies(rec, DefaultCookieConfig())

	cookies := rec.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("got %d cookies, want 2", len(cookies))
	}
	for _, c := range cookies {
		if c.MaxAge >= 0 {
			t.Errorf("%s MaxAge = %d, want negative", c.Name, c.MaxAge)
		}
	}
}

func TestGetSessionTokenFromCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if _, ok := GetSessionTokenFromCookie(req); ok {
		t.Error("expected no token without cookie")
	}

	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok"})
	token, ok := GetSessionTokenFromCookie(req)
	if !ok || token != "tok" {
		t.Errorf("GetSessionTokenFromCookie() = %q, %v", token, ok)
	}
}

func TestIsLocalURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"/", true},
		{"/account/settings?tab=1", true},
		{"", false},
		{"https://evil.example.com", false},
		{"//evil.example.com", false},
		{"/\\evil.example.com", false},
		{"account", false},
		{"/a\r\nLocation: x", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := IsLocalURL(tt.url); got != tt.want {
				t.Errorf("IsLocalURL(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}
