package api

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// NewAdminToken mints an HS256 admin bearer token. Used by operators
// (via the CLI) and by tests; the server itself only verifies.
func NewAdminToken(secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := adminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
