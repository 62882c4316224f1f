package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const ServiceKeyHeader = "X-Service-Key"

// AuthMiddleware guards the internal order endpoints consumed by the web
// application layer. The fulfiller webhook does not go through this; its
// capability URL is its own authentication.
func AuthMiddleware(serviceKey string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if serviceKey == "" {
			logger.Error("Service key not configured, rejecting request",
				zap.String("path", c.Request.URL.Path))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service not configured"})
			c.Abort()
			return
		}

		provided := c.GetHeader(ServiceKeyHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(serviceKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		c.Next()
	}
}
