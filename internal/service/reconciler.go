package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vesabooks/printapi/internal/domain"
	"github.com/vesabooks/printapi/internal/fulfiller"
	"github.com/vesabooks/printapi/internal/metrics"
	"github.com/vesabooks/printapi/internal/payment"
	"github.com/vesabooks/printapi/internal/repository"
)

// FulfillerGateway is the slice of the fulfiller client the services need.
type FulfillerGateway interface {
	CreateOrder(ctx context.Context, req *fulfiller.OrderRequest) (*fulfiller.OrderResponse, error)
	GetOrder(ctx context.Context, orderID string) (*fulfiller.StatusPayload, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Reconciler maps fulfiller stage transitions onto print order and purchase
// status, and drives the deferred charge on the production-start transition.
//
// Webhook deliveries are at-least-once and may arrive concurrently or out of
// order, so every path through HandleEvent must be safe to repeat. The charge
// path serializes on the database (the conditional creating -> charging
// update) and on the payment processor (the idempotency token derived from
// the fulfiller order id).
type Reconciler struct {
	repos     *repository.Repositories
	charger   payment.Charger
	fulfiller FulfillerGateway
	logger    *zap.Logger
}

// NewReconciler creates a new state reconciler
func NewReconciler(repos *repository.Repositories, charger payment.Charger, gw FulfillerGateway, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		repos:     repos,
		charger:   charger,
		fulfiller: gw,
		logger:    logger,
	}
}

// HandleEvent processes one normalized fulfiller status event. Errors are
// internal: the webhook handler acknowledges the sender regardless and logs
// them for manual reconciliation.
func (r *Reconciler) HandleEvent(ctx context.Context, event *domain.FulfillmentEvent) error {
	batch, err := r.repos.PrintOrder.ListByFulfillerOrderID(ctx, event.FulfillerOrderID)
	if err != nil {
		return fmt.Errorf("lookup print orders for %s: %w", event.FulfillerOrderID, err)
	}
	if len(batch) == 0 {
		// Orphan webhook: the fulfiller knows an order we do not. Acknowledge
		// and move on; delivery order relative to submission is not guaranteed.
		r.logger.Info("Webhook for unknown fulfiller order",
			zap.String("fulfiller_order_id", event.FulfillerOrderID),
			zap.String("merchant_reference", event.MerchantReference))
		metrics.WebhookDeliveries.WithLabelValues("orphan").Inc()
		return nil
	}

	// Tracking fields and the raw payload are applied on every delivery,
	// whatever the stage and whether or not a charge is in flight.
	if err := r.repos.PrintOrder.UpdateTracking(ctx, event.FulfillerOrderID, firstShipment(event), event.Raw); err != nil {
		return fmt.Errorf("update tracking for %s: %w", event.FulfillerOrderID, err)
	}

	switch event.Stage {
	case domain.StageCancelled:
		return r.handleCancelled(ctx, event.FulfillerOrderID, batch)
	case domain.StageComplete:
		if err := r.handleComplete(ctx, batch); err != nil {
			return err
		}
		// Complete implies production started. If this batch was never
		// charged (webhooks reordered, or the retry edge left it in
		// creating), the charge still has to happen.
		return r.chargeIfEligible(ctx, event.FulfillerOrderID)
	case domain.StageInProgress:
		return r.chargeIfEligible(ctx, event.FulfillerOrderID)
	default:
		return nil
	}
}

func (r *Reconciler) handleCancelled(ctx context.Context, fulfillerOrderID string, batch []*domain.PrintOrder) error {
	moved, err := r.repos.PrintOrder.CancelActive(ctx, fulfillerOrderID)
	if err != nil {
		return fmt.Errorf("cancel print orders for %s: %w", fulfillerOrderID, err)
	}
	if moved == 0 {
		return nil // already terminal
	}

	r.logger.Info("Fulfiller cancelled order",
		zap.String("fulfiller_order_id", fulfillerOrderID), zap.Int64("print_orders", moved))

	// Only purchases whose print orders were still active move; a purchase
	// already paid and pending keeps its status.
	ids := make([]uuid.UUID, 0, len(batch))
	for _, po := range batch {
		if po.Status == domain.PrintOrderStatusCreating || po.Status == domain.PrintOrderStatusCharging {
			ids = append(ids, po.PurchaseID)
		}
	}
	return r.repos.Purchase.UpdateStatusByIDs(ctx, ids, domain.PurchaseStatusCancelled)
}

func (r *Reconciler) handleComplete(ctx context.Context, batch []*domain.PrintOrder) error {
	// Only paid purchases complete; a Complete arriving before the charge
	// leaves purchases alone and the charge path below picks the batch up.
	ids := make([]uuid.UUID, 0, len(batch))
	for _, po := range batch {
		if po.Status == domain.PrintOrderStatusPending {
			ids = append(ids, po.PurchaseID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := r.repos.Purchase.UpdateStatusByIDs(ctx, ids, domain.PurchaseStatusCompleted); err != nil {
		return fmt.Errorf("complete purchases: %w", err)
	}
	return nil
}

// chargeIfEligible runs the deferred charge for a batch when production has
// started. The creating -> charging move is a single conditional update; rows
// found already in charging belong to an interrupted or concurrent attempt
// and are retried under the same idempotency token, which the processor
// collapses into one real charge.
func (r *Reconciler) chargeIfEligible(ctx context.Context, fulfillerOrderID string) error {
	locked, err := r.repos.PrintOrder.AcquireCharging(ctx, fulfillerOrderID)
	if err != nil {
		return fmt.Errorf("acquire charging lock for %s: %w", fulfillerOrderID, err)
	}

	batch, err := r.repos.PrintOrder.ListByFulfillerOrderIDAndStatus(ctx, fulfillerOrderID, domain.PrintOrderStatusCharging)
	if err != nil {
		return fmt.Errorf("load charging batch for %s: %w", fulfillerOrderID, err)
	}
	if len(batch) == 0 {
		// Nothing chargeable: the batch is already pending or cancelled.
		return nil
	}
	if locked == 0 {
		r.logger.Warn("Retrying charge for batch already in charging",
			zap.String("fulfiller_order_id", fulfillerOrderID), zap.Int("print_orders", len(batch)))
	}

	purchaseIDs := make([]uuid.UUID, len(batch))
	for i, po := range batch {
		purchaseIDs[i] = po.PurchaseID
	}
	purchases, err := r.repos.Purchase.ListByIDs(ctx, purchaseIDs)
	if err != nil {
		return fmt.Errorf("load purchases for %s: %w", fulfillerOrderID, err)
	}
	if len(purchases) != len(batch) {
		return fmt.Errorf("purchase records missing for fulfiller order %s: want %d, got %d",
			fulfillerOrderID, len(batch), len(purchases))
	}

	var total int64
	currency := purchases[0].Currency
	for _, p := range purchases {
		total += p.Price
	}

	result, err := r.charger.Charge(ctx, &payment.ChargeRequest{
		Amount:         total,
		Currency:       currency,
		PaymentMethod:  batch[0].PaymentMethodReference,
		IdempotencyKey: chargeIdempotencyKey(fulfillerOrderID),
		Description:    "Print order " + fulfillerOrderID,
	})
	if err != nil {
		// Couldn't even build the request; leave the batch retriable.
		r.logger.Error("Charge attempt failed before reaching the processor",
			zap.String("fulfiller_order_id", fulfillerOrderID), zap.Error(err))
		metrics.ChargeAttempts.WithLabelValues(string(payment.OutcomeTransientlyFailed)).Inc()
		if _, revertErr := r.repos.PrintOrder.FinishCharging(ctx, fulfillerOrderID, domain.PrintOrderStatusCreating); revertErr != nil {
			return fmt.Errorf("revert charging for %s: %w", fulfillerOrderID, revertErr)
		}
		return err
	}

	metrics.ChargeAttempts.WithLabelValues(string(result.Outcome)).Inc()

	switch result.Outcome {
	case payment.OutcomeSucceeded:
		return r.finalizeChargeSuccess(ctx, fulfillerOrderID, purchaseIDs, result.PaymentReference)
	case payment.OutcomePermanentlyFailed:
		return r.finalizeChargeFailure(ctx, fulfillerOrderID, purchaseIDs, result)
	default:
		r.logger.Warn("Transient charge failure, will retry on next callback",
			zap.String("fulfiller_order_id", fulfillerOrderID),
			zap.String("detail", result.Message))
		if _, err := r.repos.PrintOrder.FinishCharging(ctx, fulfillerOrderID, domain.PrintOrderStatusCreating); err != nil {
			return fmt.Errorf("revert charging for %s: %w", fulfillerOrderID, err)
		}
		return nil
	}
}

func (r *Reconciler) finalizeChargeSuccess(ctx context.Context, fulfillerOrderID string, purchaseIDs []uuid.UUID, paymentReference string) error {
	moved, err := r.repos.PrintOrder.FinishCharging(ctx, fulfillerOrderID, domain.PrintOrderStatusPending)
	if err != nil {
		return fmt.Errorf("finish charging for %s: %w", fulfillerOrderID, err)
	}
	if moved == 0 {
		// A concurrent retry already moved the batch; the charge itself was
		// deduplicated by the processor, so there is nothing left to do.
		return nil
	}

	if err := r.repos.Purchase.SetPaymentReference(ctx, purchaseIDs, paymentReference); err != nil {
		return fmt.Errorf("set payment reference for %s: %w", fulfillerOrderID, err)
	}
	if err := r.repos.Purchase.UpdateStatusByIDs(ctx, purchaseIDs, domain.PurchaseStatusPending); err != nil {
		return fmt.Errorf("mark purchases pending for %s: %w", fulfillerOrderID, err)
	}

	r.logger.Info("Deferred charge succeeded",
		zap.String("fulfiller_order_id", fulfillerOrderID),
		zap.String("payment_reference", paymentReference),
		zap.Int64("print_orders", moved))
	return nil
}

func (r *Reconciler) finalizeChargeFailure(ctx context.Context, fulfillerOrderID string, purchaseIDs []uuid.UUID, result *payment.ChargeResult) error {
	r.logger.Warn("Deferred charge permanently failed, cancelling order",
		zap.String("fulfiller_order_id", fulfillerOrderID),
		zap.String("failure_kind", string(result.FailureKind)),
		zap.String("detail", result.Message))

	// Best effort: the order is cancelled internally whether or not the
	// fulfiller accepts the cancellation request.
	if err := r.fulfiller.CancelOrder(ctx, fulfillerOrderID); err != nil {
		r.logger.Error("Failed to cancel fulfiller order after charge decline",
			zap.String("fulfiller_order_id", fulfillerOrderID), zap.Error(err))
	}

	if _, err := r.repos.PrintOrder.FinishCharging(ctx, fulfillerOrderID, domain.PrintOrderStatusCancelled); err != nil {
		return fmt.Errorf("cancel charging batch for %s: %w", fulfillerOrderID, err)
	}
	if err := r.repos.Purchase.UpdateStatusByIDs(ctx, purchaseIDs, domain.PurchaseStatusCancelled); err != nil {
		return fmt.Errorf("cancel purchases for %s: %w", fulfillerOrderID, err)
	}
	return nil
}

func firstShipment(event *domain.FulfillmentEvent) *domain.Shipment {
	if len(event.Shipments) == 0 {
		return nil
	}
	return &event.Shipments[0]
}

func chargeIdempotencyKey(fulfillerOrderID string) string {
	return "po-charge-" + fulfillerOrderID
}
