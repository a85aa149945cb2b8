package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	authservice "github.com/EM-ade/realmkin-sub000/internal/application/auth"
)

type Middleware struct {
	AuthSvc authservice.IAuthService
	logger  zerolog.Logger
}

func NewMiddleware(AuthSvc authservice.IAuthService, logger zerolog.Logger) *Middleware {
	return &Middleware{
		logger:  logger,
		AuthSvc: AuthSvc,
	}
}

func (m *Middleware) SetupMiddleware(router *gin.Engine) {
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		m.logger.Info().
			Str("method", param.Method).
			Str("path", param.Path).
			Int("status", param.StatusCode).
			Dur("latency", param.Latency).
			Str("client_ip", param.ClientIP).
			Msg("HTTP Request")
		return ""
	}))

	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Next()
	})
}
