package middleware

import (
	"net"
	"net/http"

	"github.com/tendant/identity-manager/pkg/auth"
)

// RequestInfo records the client address and user agent on the request
// context so issued sessions and tokens can carry them. Mount it after
// chi's RealIP so proxied requests report the original client.
func RequestInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithRequestInfo(r.Context(), auth.RequestInfo{
			IP:        clientIP(r.RemoteAddr),
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP strips the port from addr. RealIP leaves a bare address.
func clientIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
