package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/tendant/identity-manager/internal/httputil"
)

type stubResolver struct {
	tokens map[string]uuid.UUID
	seen   string
}

func (s *stubResolver) Resolve(ctx context.Context, token string) (uuid.UUID, error) {
	s.seen = token
	if id, ok := s.tokens[token]; ok {
		return id, nil
	}
	return uuid.Nil, errors.New("unknown token")
}

func TestAuth(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name       string
		setup      func(r *http.Request)
		wantStatus int
		wantToken  string
	}{
		{
			name:       "no credentials",
			setup:      func(r *http.Request) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "bearer header",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer good")
			},
			wantStatus: http.StatusOK,
			wantToken:  "good",
		},
		{
			name: "lowercase scheme",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "bearer good")
			},
			wantStatus: http.StatusOK,
			wantToken:  "good",
		},
		{
			name: "access cookie",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: httputil.AccessTokenCookieName, Value: "good"})
			},
			wantStatus: http.StatusOK,
			wantToken:  "good",
		},
		{
			name: "session cookie",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: httputil.SessionCookieName, Value: "good"})
			},
			wantStatus: http.StatusOK,
			wantToken:  "good",
		},
		{
			name: "header wins over cookie",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer good")
				r.AddCookie(&http.Cookie{Name: httputil.SessionCookieName, Value: "bad"})
			},
			wantStatus: http.StatusOK,
			wantToken:  "good",
		},
		{
			name: "unknown token",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer bad")
			},
			wantStatus: http.StatusUnauthorized,
			wantToken:  "bad",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &stubResolver{tokens: map[string]uuid.UUID{"good": userID}}
			var gotUser uuid.UUID
			handler := Auth(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser, _ = GetUserID(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if resolver.seen != tt.wantToken {
				t.Errorf("resolved token = %q, want %q", resolver.seen, tt.wantToken)
			}
			if tt.wantStatus == http.StatusOK && gotUser != userID {
				t.Errorf("user id = %v, want %v", gotUser, userID)
			}
		})
	}
}

func TestRecover(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := Recover(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("panic not logged: %s", buf.String())
	}
}

func TestLogging_OmitsQuery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/confirm-email?token=secret", nil))

	out := buf.String()
	if !strings.Contains(out, "status=202") || !strings.Contains(out, "path=/auth/confirm-email") {
		t.Errorf("unexpected log line: %s", out)
	}
	if strings.Contains(out, "secret") {
		t.Errorf("token leaked into log: %s", out)
	}
}
