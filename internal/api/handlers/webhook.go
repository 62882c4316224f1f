package handlers

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vesabooks/printapi/internal/domain"
	"github.com/vesabooks/printapi/internal/fulfiller"
	"github.com/vesabooks/printapi/internal/metrics"
)

// EventDispatcher receives normalized fulfillment events. Implemented by the
// state reconciler.
type EventDispatcher interface {
	HandleEvent(ctx context.Context, event *domain.FulfillmentEvent) error
}

// HandleFulfillmentWebhook handles POST /webhooks/fulfillment/:token.
//
// The fulfiller cannot sign requests in all deployments, so the secret lives
// in the URL path. Delivery is at-least-once: duplicates, reordering, and
// concurrent deliveries for the same order are all expected here and resolved
// downstream by the reconciler.
//
// Once the token matches, the response is always 200 {"received": true} -
// even for unparseable bodies, unknown orders, and reconciliation failures -
// so the sender never enters a retry storm on our behalf. Internal failures
// are logged for manual follow-up instead.
func HandleFulfillmentWebhook(webhookToken string, dispatcher EventDispatcher, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Param("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(webhookToken)) != 1 {
			// Wrong capability URL: indistinguishable from a missing route.
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			logger.Warn("Fulfillment webhook: failed to read body", zap.Error(err))
			metrics.WebhookDeliveries.WithLabelValues("parse_error").Inc()
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}

		event, err := fulfiller.ParseWebhook(body)
		if err != nil {
			logger.Warn("Fulfillment webhook: unparseable payload",
				zap.Error(err), zap.ByteString("body", body))
			metrics.WebhookDeliveries.WithLabelValues("parse_error").Inc()
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}

		if err := dispatcher.HandleEvent(c.Request.Context(), event); err != nil {
			logger.Error("Fulfillment webhook: reconciliation failed",
				zap.String("fulfiller_order_id", event.FulfillerOrderID),
				zap.String("stage", string(event.Stage)),
				zap.Error(err))
			metrics.WebhookDeliveries.WithLabelValues("reconcile_error").Inc()
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}

		metrics.WebhookDeliveries.WithLabelValues("dispatched").Inc()
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
