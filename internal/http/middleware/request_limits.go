package middleware

import (
	"net/http"

	"github.com/tendant/identity-manager/internal/httputil"
)

// RequestSizeLimit creates middleware that limits the maximum request body size.
// Requests that announce an oversized body are rejected before the handler
// runs; the rest are cut off by http.MaxBytesReader while decoding.
func RequestSizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > maxBytes {
				httputil.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

