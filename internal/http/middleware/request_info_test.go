package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/tendant/identity-manager/pkg/auth"
)

func TestRequestInfo(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		userAgent  string
		want       auth.RequestInfo
	}{
		{
			name:       "host and port",
			remoteAddr: "192.0.2.10:54321",
			userAgent:  "curl/8.0",
			want:       auth.RequestInfo{IP: "192.0.2.10", UserAgent: "curl/8.0"},
		},
		{
			name:       "ipv6 with port",
			remoteAddr: "[2001:db8::1]:443",
			want:       auth.RequestInfo{IP: "2001:db8::1"},
		},
		{
			name:       "forwarded client wins",
			remoteAddr: "10.0.0.1:8080",
			forwarded:  "203.0.113.9",
			userAgent:  "Mozilla/5.0",
			want:       auth.RequestInfo{IP: "203.0.113.9", UserAgent: "Mozilla/5.0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got auth.RequestInfo
			var ok bool
			handler := chimw.RealIP(RequestInfo(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, ok = auth.RequestInfoFrom(r.Context())
			})))

			req := httptest.NewRequest(http.MethodPost, "/v1/account/login", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.userAgent != "" {
				req.Header.Set("User-Agent", tt.userAgent)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if !ok {
				t.Fatal("request info missing from context")
			}
			if got != tt.want {
				t.Errorf("request info = %+v, want %+v", got, tt.want)
			}
		})
	}
}
