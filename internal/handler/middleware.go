package handler

import (
	"net/http"
	"strings"

	"github.com/boddenberg/finledger-go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// AuthMiddleware validates Bearer JWTs on the API routes. With disabled=true
// (local development) every request passes through.
func AuthMiddleware(secret string, disabled bool, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if disabled {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || raw == "" {
				writeError(w, logger, &domain.ErrUnauthorized{Message: "missing bearer token"})
				return
			}

			token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, &domain.ErrUnauthorized{Message: "unexpected signing method"}
				}
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				logger.Warn("token rejected", zap.Error(err))
				writeError(w, logger, &domain.ErrUnauthorized{Message: "invalid token"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
