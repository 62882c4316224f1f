package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vesabooks/printapi/internal/config"
	"github.com/vesabooks/printapi/internal/domain"
	"github.com/vesabooks/printapi/internal/fulfiller"
	"github.com/vesabooks/printapi/internal/metrics"
	"github.com/vesabooks/printapi/internal/repository"
	"github.com/vesabooks/printapi/pkg/errors"
)

// AssetRenderer produces the print-ready assets for one line item. The actual
// rendering pipeline (PDF generation from the story artifact) lives outside
// this service.
type AssetRenderer interface {
	RenderPrintAssets(ctx context.Context, item *LineItem) ([]fulfiller.Asset, error)
}

// LineItem is one product line in a checkout submission.
type LineItem struct {
	ProductType domain.ProductType
	SKU         string
	Copies      int
	Price       int64 // minor currency units
	BookSize    string
	SpineText   string
	AssetURLs   []AssetURL // pre-rendered print files, by print area
}

type AssetURL struct {
	PrintArea string
	URL       string
}

// Recipient is the shipping destination shared by every print item in a batch.
type Recipient struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// SubmitRequest describes one checkout to turn into purchases and a fulfiller
// production order.
type SubmitRequest struct {
	UserID                 string
	Items                  []LineItem
	Recipient              Recipient
	PaymentMethodReference string // captured, not charged, at checkout time
	Currency               string
}

// SubmitResult reports what was created.
type SubmitResult struct {
	OrderReference   string
	FulfillerOrderID string
	PurchaseIDs      []uuid.UUID
	PrintOrderIDs    []uuid.UUID
}

// Submitter creates purchases and print orders for a checkout and hands the
// print batch to the fulfiller. The customer is NOT charged here: the charge
// is deferred until the fulfiller confirms production has started.
type Submitter struct {
	repos     *repository.Repositories
	fulfiller FulfillerGateway
	renderer  AssetRenderer
	cfg       config.FulfillerConfig
	logger    *zap.Logger
}

// NewSubmitter creates a new fulfillment submitter
func NewSubmitter(repos *repository.Repositories, gw FulfillerGateway, renderer AssetRenderer, cfg config.FulfillerConfig, logger *zap.Logger) *Submitter {
	return &Submitter{
		repos:     repos,
		fulfiller: gw,
		renderer:  renderer,
		cfg:       cfg,
		logger:    logger,
	}
}

// SubmitBatch persists one purchase per line item and one print order per
// print item, submits the print batch to the fulfiller, and attaches the
// returned fulfiller order id to every print order.
//
// On render or submission failure the affected print orders are written to
// failed with an error message and the batch is not retried automatically; a
// human resubmits.
func (s *Submitter) SubmitBatch(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	if len(req.Items) == 0 {
		return nil, &errors.ErrValidation{Message: "no line items"}
	}
	if req.PaymentMethodReference == "" {
		return nil, &errors.ErrValidation{Message: "payment method reference is required"}
	}

	orderReference := uuid.NewString()
	result := &SubmitResult{OrderReference: orderReference}

	var printOrders []*domain.PrintOrder
	var fulfillerItems []fulfiller.Item

	s.logger.Info("Creating purchases for checkout",
		zap.String("order_reference", orderReference), zap.Int("item_count", len(req.Items)))

	for i := range req.Items {
		item := &req.Items[i]
		purchase := &domain.Purchase{
			OrderReference: orderReference,
			UserID:         req.UserID,
			ProductType:    item.ProductType,
			Price:          item.Price,
			Currency:       req.Currency,
			Status:         domain.PurchaseStatusCreating,
		}
		if item.ProductType == domain.ProductTypePrint {
			if item.BookSize != "" {
				size := item.BookSize
				purchase.BookSize = &size
			}
			if item.SpineText != "" {
				spine := item.SpineText
				purchase.SpineText = &spine
			}
		}
		if err := s.repos.Purchase.Create(ctx, purchase); err != nil {
			return nil, fmt.Errorf("create purchase: %w", err)
		}
		result.PurchaseIDs = append(result.PurchaseIDs, purchase.ID)

		if item.ProductType != domain.ProductTypePrint {
			continue
		}

		printOrder := &domain.PrintOrder{
			PurchaseID:             purchase.ID,
			Status:                 domain.PrintOrderStatusCreating,
			PaymentMethodReference: req.PaymentMethodReference,
		}
		if err := s.repos.PrintOrder.Create(ctx, printOrder); err != nil {
			return nil, fmt.Errorf("create print order: %w", err)
		}
		result.PrintOrderIDs = append(result.PrintOrderIDs, printOrder.ID)
		printOrders = append(printOrders, printOrder)

		assets, err := s.renderer.RenderPrintAssets(ctx, item)
		if err != nil {
			s.failPrintOrders(ctx, printOrders, fmt.Sprintf("asset rendering failed: %v", err))
			metrics.FulfillerSubmissions.WithLabelValues("failed").Inc()
			return nil, &errors.ErrSubmissionFailed{OrderReference: orderReference, Cause: err}
		}

		copies := item.Copies
		if copies < 1 {
			copies = 1
		}
		fulfillerItems = append(fulfillerItems, fulfiller.Item{
			MerchantItemReference: printOrder.ID.String(),
			SKU:                   item.SKU,
			Copies:                copies,
			Sizing:                item.BookSize,
			Assets:                assets,
		})
	}

	if len(printOrders) == 0 {
		// Digital-only checkout: nothing to submit or defer.
		return result, nil
	}

	orderReq := &fulfiller.OrderRequest{
		MerchantReference: orderReference,
		ShippingMethod:    s.cfg.ShippingMethod,
		Recipient: fulfiller.Recipient{
			Name: req.Recipient.Name,
			Address: fulfiller.Address{
				Line1:      req.Recipient.Line1,
				Line2:      req.Recipient.Line2,
				City:       req.Recipient.City,
				State:      req.Recipient.State,
				PostalCode: req.Recipient.PostalCode,
				Country:    req.Recipient.Country,
			},
		},
		Items:       fulfillerItems,
		CallbackURL: s.callbackURL(),
		Metadata: map[string]string{
			"orderReference": orderReference,
			// Operational marker: payment happens after production
			// confirmation, not at submission.
			"paymentPhase": "deferred",
		},
	}

	s.logger.Info("Submitting production request to fulfiller",
		zap.String("order_reference", orderReference), zap.Int("print_items", len(fulfillerItems)))

	resp, err := s.fulfiller.CreateOrder(ctx, orderReq)
	if err != nil {
		s.failPrintOrders(ctx, printOrders, fmt.Sprintf("fulfiller submission failed: %v", err))
		metrics.FulfillerSubmissions.WithLabelValues("failed").Inc()
		return nil, &errors.ErrSubmissionFailed{OrderReference: orderReference, Cause: err}
	}

	if err := s.repos.PrintOrder.AttachFulfillerOrderID(ctx, result.PrintOrderIDs, resp.ID); err != nil {
		// Submission succeeded but we could not record the id; the sweep
		// cannot find these orders, so this needs a human.
		s.logger.Error("Fulfiller accepted order but attaching its id failed",
			zap.String("order_reference", orderReference),
			zap.String("fulfiller_order_id", resp.ID), zap.Error(err))
		return nil, fmt.Errorf("attach fulfiller order id %s: %w", resp.ID, err)
	}

	metrics.FulfillerSubmissions.WithLabelValues("accepted").Inc()
	result.FulfillerOrderID = resp.ID

	s.logger.Info("Fulfiller accepted production request",
		zap.String("order_reference", orderReference),
		zap.String("fulfiller_order_id", resp.ID))

	return result, nil
}

func (s *Submitter) failPrintOrders(ctx context.Context, orders []*domain.PrintOrder, message string) {
	for _, po := range orders {
		if err := s.repos.PrintOrder.MarkFailed(ctx, po.ID, message); err != nil {
			s.logger.Error("Failed to mark print order failed",
				zap.String("print_order_id", po.ID.String()), zap.Error(err))
		}
	}
}

func (s *Submitter) callbackURL() string {
	base := strings.TrimSuffix(s.cfg.CallbackBaseURL, "/")
	return base + "/webhooks/fulfillment/" + s.cfg.WebhookToken
}

// URLAssetRenderer passes through pre-rendered asset URLs supplied with the
// submission. The PDF rendering pipeline runs before checkout completes.
type URLAssetRenderer struct{}

func (URLAssetRenderer) RenderPrintAssets(_ context.Context, item *LineItem) ([]fulfiller.Asset, error) {
	if len(item.AssetURLs) == 0 {
		return nil, fmt.Errorf("no print assets for sku %s", item.SKU)
	}
	assets := make([]fulfiller.Asset, len(item.AssetURLs))
	for i, a := range item.AssetURLs {
		if a.URL == "" {
			return nil, fmt.Errorf("empty asset url for sku %s", item.SKU)
		}
		printArea := a.PrintArea
		if printArea == "" {
			printArea = "default"
		}
		assets[i] = fulfiller.Asset{PrintArea: printArea, URL: a.URL}
	}
	return assets, nil
}
