package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vesabooks/printapi/internal/domain"
	"github.com/vesabooks/printapi/internal/repository"
	"github.com/vesabooks/printapi/internal/service"
	"github.com/vesabooks/printapi/pkg/errors"
)

// SubmitOrderRequest is the checkout handoff from the web application layer:
// line items with pre-rendered print assets, one shipping address, and the
// payment instrument captured (not charged) at checkout.
type SubmitOrderRequest struct {
	UserID                 string             `json:"user_id" binding:"required"`
	PaymentMethodReference string             `json:"payment_method_reference" binding:"required"`
	Currency               string             `json:"currency" binding:"required"`
	Recipient              RecipientPayload   `json:"recipient" binding:"required"`
	Items                  []LineItemPayload  `json:"items" binding:"required,min=1"`
}

type RecipientPayload struct {
	Name       string `json:"name" binding:"required"`
	Line1      string `json:"line1" binding:"required"`
	Line2      string `json:"line2"`
	City       string `json:"city" binding:"required"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code" binding:"required"`
	Country    string `json:"country" binding:"required"`
}

type LineItemPayload struct {
	ProductType string         `json:"product_type" binding:"required,oneof=digital print"`
	SKU         string         `json:"sku" binding:"required"`
	Copies      int            `json:"copies"`
	Price       int64          `json:"price" binding:"required,min=1"`
	BookSize    string         `json:"book_size"`
	SpineText   string         `json:"spine_text"`
	Assets      []AssetPayload `json:"assets"`
}

type AssetPayload struct {
	PrintArea string `json:"print_area"`
	URL       string `json:"url" binding:"required"`
}

// SubmitOrderResponse reports what was created for one checkout.
type SubmitOrderResponse struct {
	OrderReference   string   `json:"order_reference"`
	FulfillerOrderID string   `json:"fulfiller_order_id,omitempty"`
	PurchaseIDs      []string `json:"purchase_ids"`
	PrintOrderIDs    []string `json:"print_order_ids,omitempty"`
}

// HandleSubmitOrder handles POST /v1/print-orders
func HandleSubmitOrder(submitter *service.Submitter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubmitOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "validation failed",
				"details": err.Error(),
			})
			return
		}

		submitReq := &service.SubmitRequest{
			UserID:                 req.UserID,
			PaymentMethodReference: req.PaymentMethodReference,
			Currency:               req.Currency,
			Recipient: service.Recipient{
				Name:       req.Recipient.Name,
				Line1:      req.Recipient.Line1,
				Line2:      req.Recipient.Line2,
				City:       req.Recipient.City,
				State:      req.Recipient.State,
				PostalCode: req.Recipient.PostalCode,
				Country:    req.Recipient.Country,
			},
		}
		for _, item := range req.Items {
			lineItem := service.LineItem{
				ProductType: domain.ProductType(item.ProductType),
				SKU:         item.SKU,
				Copies:      item.Copies,
				Price:       item.Price,
				BookSize:    item.BookSize,
				SpineText:   item.SpineText,
			}
			for _, a := range item.Assets {
				lineItem.AssetURLs = append(lineItem.AssetURLs, service.AssetURL{
					PrintArea: a.PrintArea,
					URL:       a.URL,
				})
			}
			submitReq.Items = append(submitReq.Items, lineItem)
		}

		result, err := submitter.SubmitBatch(c.Request.Context(), submitReq)
		if err != nil {
			switch err.(type) {
			case *errors.ErrValidation:
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			case *errors.ErrSubmissionFailed:
				// Print orders are marked failed; a human resubmits.
				logger.Error("Order submission failed", zap.Error(err))
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			default:
				logger.Error("Order submission failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
			return
		}

		c.JSON(http.StatusCreated, SubmitOrderResponse{
			OrderReference:   result.OrderReference,
			FulfillerOrderID: result.FulfillerOrderID,
			PurchaseIDs:      uuidsToStrings(result.PurchaseIDs),
			PrintOrderIDs:    uuidsToStrings(result.PrintOrderIDs),
		})
	}
}

// PurchaseView is the order-history shape consumed by the web application.
type PurchaseView struct {
	ID               string  `json:"id"`
	OrderReference   string  `json:"order_reference"`
	ProductType      string  `json:"product_type"`
	Price            int64   `json:"price"`
	Currency         string  `json:"currency"`
	Status           string  `json:"status"`
	PaymentReference *string `json:"payment_reference,omitempty"`
	BookSize         *string `json:"book_size,omitempty"`
	SpineText        *string `json:"spine_text,omitempty"`

	PrintOrder *PrintOrderView `json:"print_order,omitempty"`
}

type PrintOrderView struct {
	ID               string  `json:"id"`
	FulfillerOrderID *string `json:"fulfiller_order_id,omitempty"`
	Status           string  `json:"status"`
	TrackingCarrier  *string `json:"tracking_carrier,omitempty"`
	TrackingNumber   *string `json:"tracking_number,omitempty"`
	TrackingURL      *string `json:"tracking_url,omitempty"`
	ErrorMessage     *string `json:"error_message,omitempty"`
}

// HandleGetOrder handles GET /v1/orders/:reference
func HandleGetOrder(repos *repository.Repositories, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reference := c.Param("reference")

		purchases, err := repos.Purchase.ListByOrderReference(c.Request.Context(), reference)
		if err != nil {
			logger.Error("Failed to load order", zap.String("order_reference", reference), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if len(purchases) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}

		views, err := buildPurchaseViews(c, repos, purchases)
		if err != nil {
			logger.Error("Failed to load print orders", zap.String("order_reference", reference), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"order_reference": reference,
			"purchases":       views,
		})
	}
}

// HandleListUserOrders handles GET /v1/users/:userId/orders
func HandleListUserOrders(repos *repository.Repositories, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")

		limit := 50
		offset := 0
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
				limit = n
			}
		}
		if v := c.Query("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		purchases, err := repos.Purchase.ListByUserID(c.Request.Context(), userID, limit, offset)
		if err != nil {
			logger.Error("Failed to list user orders", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		views, err := buildPurchaseViews(c, repos, purchases)
		if err != nil {
			logger.Error("Failed to load print orders", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"purchases": views})
	}
}

func buildPurchaseViews(c *gin.Context, repos *repository.Repositories, purchases []*domain.Purchase) ([]PurchaseView, error) {
	views := make([]PurchaseView, 0, len(purchases))
	for _, p := range purchases {
		view := PurchaseView{
			ID:               p.ID.String(),
			OrderReference:   p.OrderReference,
			ProductType:      string(p.ProductType),
			Price:            p.Price,
			Currency:         p.Currency,
			Status:           string(p.Status),
			PaymentReference: p.PaymentReference,
			BookSize:         p.BookSize,
			SpineText:        p.SpineText,
		}

		if p.ProductType == domain.ProductTypePrint {
			po, err := repos.PrintOrder.GetByPurchaseID(c.Request.Context(), p.ID)
			if err != nil {
				if _, ok := err.(*errors.ErrNotFound); !ok {
					return nil, err
				}
			} else {
				view.PrintOrder = &PrintOrderView{
					ID:               po.ID.String(),
					FulfillerOrderID: po.FulfillerOrderID,
					Status:           string(po.Status),
					TrackingCarrier:  po.TrackingCarrier,
					TrackingNumber:   po.TrackingNumber,
					TrackingURL:      po.TrackingURL,
					ErrorMessage:     po.ErrorMessage,
				}
			}
		}

		views = append(views, view)
	}
	return views, nil
}

func uuidsToStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
