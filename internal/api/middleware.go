package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const requestIDKey = "request_id"

// RequestID tags every request with a UUIDv7, honoring one the caller
// already sent, and echoes it back as X-Request-Id. Error bodies carry
// the same id so support can correlate a complaint with the logs.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-Id")
		if rid == "" {
			rid = uuid.Must(uuid.NewV7()).String()
		}
		c.Set(requestIDKey, rid)
		c.Header("X-Request-Id", rid)
		c.Next()
	}
}

// SecurityHeaders sets the usual hardening headers. The API serves
// card data entry pages' XHR calls, so caching is disabled outright.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// adminClaims is the token payload for the admin surface.
type adminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AdminAuth guards the admin group with an HS256 bearer token carrying
// role=admin.
func AdminAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", "bearer token required")
			return
		}

		claims := &adminClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		if claims.Role != "admin" {
			abortWithError(c, http.StatusForbidden, "forbidden", "admin role required")
			return
		}
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// abortWithError writes the uniform error envelope and stops the chain.
func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":      code,
		"message":    message,
		"request_id": requestID(c),
	})
}
