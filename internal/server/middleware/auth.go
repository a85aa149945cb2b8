package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
)

// AuthMiddleware resolves the bearer token to the owner identity. Handlers
// read "user_id" and "wallet_address" from the context; nothing downstream
// re-parses the token.
func (m *Middleware) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenString string

		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				m.logger.Warn().Msg("Invalid Authorization header format")
				c.JSON(http.StatusUnauthorized, gin.H{
					"error_code": domain.CodeUnauthenticated,
					"message":    domain.MessageFor(domain.CodeUnauthenticated),
				})
				c.Abort()
				return
			}
			tokenString = parts[1]
		} else {
			// WebSocket clients cannot set headers; allow a token query param.
			tokenString = c.Query("token")
			if tokenString == "" {
				c.JSON(http.StatusUnauthorized, gin.H{
					"error_code": domain.CodeUnauthenticated,
					"message":    domain.MessageFor(domain.CodeUnauthenticated),
				})
				c.Abort()
				return
			}
		}

		claims, err := m.AuthSvc.VerifyToken(c.Request.Context(), tokenString)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Failed to verify token")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error_code": domain.CodeUnauthenticated,
				"message":    domain.MessageFor(domain.CodeUnauthenticated),
			})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID.String())
		c.Set("wallet_address", claims.WalletAddress)
		c.Set("is_verified", claims.IsVerified)

		c.Next()
	}
}
