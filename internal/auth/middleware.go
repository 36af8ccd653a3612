package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/umar/roomchat/internal/models"
)

type contextKey string

const principalKey contextKey = "principal"

func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey).(models.Principal)
	return p, ok
}

// Authenticate resolves the principal from the request.
func Authenticate(r *http.Request, jwtSecret string) (models.Principal, error) {
	token := TokenFromRequest(r.Header.Get("Authorization"), r.URL.Query().Get("token"))
	if token == "" {
		return models.Principal{}, ErrUnauthenticated
	}
	return ValidateToken(token, jwtSecret)
}

func JWTMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := Authenticate(r, jwtSecret)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid or missing token"})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
