package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/vedran77/mavis/internal/service"
)

type contextKey string

const claimsKey contextKey = "claims"

// TokenVerifier checks an access token and returns its claims.
type TokenVerifier interface {
	ParseToken(token string) (service.Claims, error)
}

func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				unauthorized(w, "Missing or invalid token")
				return
			}

			claims, err := verifier.ParseToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				unauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"` + message + `"}}`))
}

// WithClaims stores verified claims in ctx.
func WithClaims(ctx context.Context, claims service.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaims extracts the verified token claims from request context
func GetClaims(ctx context.Context) service.Claims {
	claims, _ := ctx.Value(claimsKey).(service.Claims)
	return claims
}

// GetUserID extracts user ID from request context
func GetUserID(ctx context.Context) string {
	return GetClaims(ctx).UserID
}
