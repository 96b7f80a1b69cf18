package server

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/sonos-mqtt/pkg/hasher"
)

func LoggingMiddleware(next http.Handler) http.Handler {
	logger := zap.L()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Info(r.RequestURI,
			zap.String("method", r.Method),
			zap.Duration("duration", time.Since(start)))
	})
}

// AuthMiddleware checks the bearer token against the configured bcrypt hash.
// An empty hash disables auth entirely.
func AuthMiddleware(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tokenHash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || !hasher.TokenCorrect(token, tokenHash) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
