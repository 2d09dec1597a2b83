package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"legalrag/internal/pkg/jwtutil"
	"legalrag/internal/transport/http/response"
)

const (
	ContextUsernameKey = "username"
	ContextRoleKey     = "role"
)

func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "missing authorization header", nil)
			c.Abort()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid authorization scheme", nil)
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid or expired token", nil)
			c.Abort()
			return
		}
		if claims.Role != "admin" {
			response.Error(c, http.StatusForbidden, response.CodeForbidden, "admin role required", nil)
			c.Abort()
			return
		}

		c.Set(ContextUsernameKey, claims.Username)
		c.Set(ContextRoleKey, claims.Role)
		c.Next()
	}
}
