package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vesabooks/printapi/internal/api/handlers"
	"github.com/vesabooks/printapi/internal/api/middleware"
	"github.com/vesabooks/printapi/internal/config"
	"github.com/vesabooks/printapi/internal/repository"
	"github.com/vesabooks/printapi/internal/service"
)

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, repos *repository.Repositories, submitter *service.Submitter, reconciler *service.Reconciler, logger *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(customRecovery(logger))
	router.Use(loggingMiddleware(logger))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Fulfiller status callbacks. The token path segment is the only
	// authentication; deliveries are at-least-once and possibly concurrent.
	router.POST("/webhooks/fulfillment/:token",
		handlers.HandleFulfillmentWebhook(cfg.Fulfiller.WebhookToken, reconciler, logger))

	// API v1 routes (internal, consumed by the web application layer)
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.API.ServiceKey, logger))
	{
		v1.POST("/print-orders", handlers.HandleSubmitOrder(submitter, logger))
		v1.GET("/orders/:reference", handlers.HandleGetOrder(repos, logger))
		v1.GET("/users/:userId/orders", handlers.HandleListUserOrders(repos, logger))
	}

	return router
}

// customRecovery is a custom recovery middleware that logs panics
func customRecovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("Panic recovered",
			zap.Any("error", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal server error",
			"details": fmt.Sprintf("%v", recovered),
		})
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		status := c.Writer.Status()
		logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
		)
	}
}
