package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/umar/roomchat/internal/models"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Claims are issued by the external identity provider.
type Claims struct {
	Username    string `json:"username"`
	DisplayName string `json:"name,omitempty"`
	Role        string `json:"role,omitempty"`
	RoleIcon    string `json:"role_icon,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Principal() models.Principal {
	return models.Principal{
		ID:          c.Subject,
		Username:    c.Username,
		DisplayName: c.DisplayName,
		Role:        c.Role,
		RoleIcon:    c.RoleIcon,
	}
}

// GenerateToken signs a token for p. The identity provider owns issuance;
// this exists for local development and tests.
func GenerateToken(p models.Principal, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Role:        p.Role,
		RoleIcon:    p.RoleIcon,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ValidateToken verifies an HS256 token and returns the principal it carries.
func ValidateToken(tokenString, secret string) (models.Principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" || strings.TrimSpace(claims.Username) == "" {
		return models.Principal{}, fmt.Errorf("%w: token has no subject or username", ErrUnauthenticated)
	}
	return claims.Principal(), nil
}

// TokenFromRequest extracts a bearer token from the Authorization header,
// falling back to the token query parameter browsers use for websockets.
func TokenFromRequest(header, query string) string {
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return query
}
