package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Dan9191/bank-cards/internal/service"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	requestIDKey contextKey = "requestID"
)

// TokenParser verifies a bearer token and returns the username it identifies
type TokenParser interface {
	ParseToken(token string) (string, error)
}

// AdminChecker reports whether a user currently holds the ADMIN role
type AdminChecker interface {
	IsAdmin(ctx context.Context, username string) (bool, error)
}

// WithPrincipal stores the authenticated username in ctx
func WithPrincipal(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, principalKey, username)
}

// PrincipalFrom returns the authenticated username stored by Auth
func PrincipalFrom(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(principalKey).(string)
	return username, ok && username != ""
}

// Auth rejects requests without a valid "Bearer <token>" Authorization header
func Auth(parser TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "authorization header required")
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader || tokenString == "" {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			username, err := parser.ParseToken(tokenString)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), username)))
		})
	}
}

// RequireAdmin lets only administrators through. It must run after Auth.
// A principal that no longer exists is forbidden; a failed lookup is a 500.
func RequireAdmin(checker AdminChecker, log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			isAdmin, err := checker.IsAdmin(r.Context(), principal)
			if err != nil && !errors.Is(err, service.ErrNotFound) {
				log.WithFields(logrus.Fields{
					"request_id": RequestIDFrom(r.Context()),
					"principal":  principal,
				}).WithError(err).Error("Failed to resolve administrator role")
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			if err != nil || !isAdmin {
				writeError(w, http.StatusForbidden, "administrator role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
