package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vesabooks/printapi/internal/domain"
	"github.com/vesabooks/printapi/internal/payment"
	"github.com/vesabooks/printapi/internal/repository"
)

type testEnv struct {
	purchases *memPurchaseRepo
	orders    *memPrintOrderRepo
	charger   *fakeCharger
	gateway   *fakeGateway
	rec       *Reconciler
}

func newTestEnv() *testEnv {
	purchases := &memPurchaseRepo{}
	orders := &memPrintOrderRepo{}
	charger := &fakeCharger{}
	gateway := &fakeGateway{}
	repos := &repository.Repositories{Purchase: purchases, PrintOrder: orders}
	return &testEnv{
		purchases: purchases,
		orders:    orders,
		charger:   charger,
		gateway:   gateway,
		rec:       NewReconciler(repos, charger, gateway, zap.NewNop()),
	}
}

// seedBatch creates one purchase and one submitted print order per price,
// all sharing a fulfiller order id, in the state they hold right after a
// successful submission.
func (e *testEnv) seedBatch(t *testing.T, fulfillerOrderID string, prices ...int64) ([]uuid.UUID, []uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	var purchaseIDs, printOrderIDs []uuid.UUID
	for _, price := range prices {
		purchase := &domain.Purchase{
			OrderReference: "order-ref-1",
			UserID:         "user-1",
			ProductType:    domain.ProductTypePrint,
			Price:          price,
			Currency:       "usd",
			Status:         domain.PurchaseStatusCreating,
		}
		require.NoError(t, e.purchases.Create(ctx, purchase))
		purchaseIDs = append(purchaseIDs, purchase.ID)

		foid := fulfillerOrderID
		printOrder := &domain.PrintOrder{
			PurchaseID:             purchase.ID,
			FulfillerOrderID:       &foid,
			Status:                 domain.PrintOrderStatusCreating,
			PaymentMethodReference: "pm_123",
		}
		require.NoError(t, e.orders.Create(ctx, printOrder))
		printOrderIDs = append(printOrderIDs, printOrder.ID)
	}
	return purchaseIDs, printOrderIDs
}

func stageEvent(fulfillerOrderID string, stage domain.FulfillmentStage) *domain.FulfillmentEvent {
	return &domain.FulfillmentEvent{
		FulfillerOrderID: fulfillerOrderID,
		Stage:            stage,
		Raw:              []byte(`{"id":"` + fulfillerOrderID + `"}`),
	}
}

func (e *testEnv) printOrderStatuses(t *testing.T, ids []uuid.UUID) []domain.PrintOrderStatus {
	t.Helper()
	out := make([]domain.PrintOrderStatus, len(ids))
	for i, id := range ids {
		o, err := e.orders.GetByID(context.Background(), id)
		require.NoError(t, err)
		out[i] = o.Status
	}
	return out
}

func (e *testEnv) purchaseStatuses(t *testing.T, ids []uuid.UUID) []domain.PurchaseStatus {
	t.Helper()
	out := make([]domain.PurchaseStatus, len(ids))
	for i, id := range ids {
		p, err := e.purchases.GetByID(context.Background(), id)
		require.NoError(t, err)
		out[i] = p.Status
	}
	return out
}

func TestHandleEvent_InProgressChargesBatchOnce(t *testing.T) {
	env := newTestEnv()
	env.charger.result = payment.ChargeResult{Outcome: payment.OutcomeSucceeded, PaymentReference: "ch_1"}
	purchaseIDs, printOrderIDs := env.seedBatch(t, "ord_1", 1500, 2000)

	err := env.rec.HandleEvent(context.Background(), stageEvent("ord_1", domain.StageInProgress))
	require.NoError(t, err)

	// One combined charge for the whole batch, keyed by the fulfiller order.
	require.Len(t, env.charger.requests, 1)
	req := env.charger.requests[0]
	assert.Equal(t, int64(3500), req.Amount)
	assert.Equal(t, "usd", req.Currency)
	assert.Equal(t, "pm_123", req.PaymentMethod)
	assert.Equal(t, "po-charge-ord_1", req.IdempotencyKey)

	for _, status := range env.printOrderStatuses(t, printOrderIDs) {
		assert.Equal(t, domain.PrintOrderStatusPending, status)
	}
	for _, id := range purchaseIDs {
		p, err := env.purchases.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.PurchaseStatusPending, p.Status)
		require.NotNil(t, p.PaymentReference)
		assert.Equal(t, "ch_1", *p.PaymentReference)
	}
}

func TestHandleEvent_DuplicateDeliveryDoesNotRecharge(t *testing.T) {
	env := newTestEnv()
	env.charger.result = payment.ChargeResult{Outcome: payment.OutcomeSucceeded, PaymentReference: "ch_1"}
	_, printOrderIDs := env.seedBatch(t, "ord_1", 1500)

	ctx := context.Background()
	require.NoError(t, env.rec.HandleEvent(ctx, stageEvent("ord_1", domain.StageInProgress)))
	require.NoError(t, env.rec.HandleEvent(ctx, stageEvent("ord_1", domain.StageInProgress)))

	assert.Equal(t, 1, env.charger.attempts)
	assert.Equal(t, domain.PrintOrderStatusPending, env.printOrderStatuses(t, printOrderIDs)[0])
}

func TestHandleEvent_ConcurrentDeliveriesChargeExactlyOnce(t *testing.T) {
	env := newTestEnv()
	env.charger.result = payment.ChargeResult{Outcome: payment.OutcomeSucceeded, PaymentReference: "ch_1"}
	purchaseIDs, printOrderIDs := env.seedBatch(t, "ord_1", 1500, 2000)

	const deliveries = 8
	var wg sync.WaitGroup
	wg.Add(deliveries)
	for i := 0; i < deliveries; i++ {
		go func() {
			defer wg.Done()
			_ = env.rec.HandleEvent(context.Background(), stageEvent("ord_1", domain.StageInProgress))
		}()
	}
	wg.Wait()

	// Losing deliveries may retry under the same idempotency key, but the
	// processor settles exactly one real charge.
	assert.Equal(t, 1, env.charger.realCharges)
	for _, req := range env.charger.requests {
		assert.Equal(t, "po-charge-ord_1", req.IdempotencyKey)
	}

	for _, status := range env.printOrderStatuses(t, printOrderIDs) {
		assert.Equal(t, domain.PrintOrderStatusPending, status)
	}
	for _, id := range purchaseIDs {
		p, err := env.purchases.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.PurchaseStatusPending, p.Status)
		require.NotNil(t, p.PaymentReference)
	}
}

func TestHandleEvent_TransientFailureThenRecovery(t *testing.T) {
	env := newTestEnv()
	env.charger.result = payment.ChargeResult{
		Outcome:     payment.OutcomeTransientlyFailed,
		FailureKind: payment.FailureTransient,
		Message:     "processor unavailable",
	}
	purchaseIDs, printOrderIDs := env.seedBatch(t, "ord_1", 1500)

	ctx := context.Background()
	require.NoError(t, env.rec.HandleEvent(ctx, stageEvent("ord_1", domain.StageInProgress)))

	// The batch reverts to creating so the next callback can retry.
	assert.Equal(t, domain.PrintOrderStatusCreating, env.printOrderStatuses(t, printOrderIDs)[0])
	assert.Equal(t, domain.PurchaseStatusCreating, env.purchaseStatuses(t, purchaseIDs)[0])

	env.charger.mu.Lock()
	env.charger.result = payment.ChargeResult{Outcome: payment.OutcomeSucceeded, PaymentReference: "ch_2"}
	env.charger.mu.Unlock()

	require.NoError(t, env.rec.HandleEvent(ctx, stageEvent("ord_1", domain.StageInProgress)))

	assert.Equal(t, 2, env.charger.attempts)
	assert.Equal(t, domain.PrintOrderStatusPending, env.printOrderStatuses(t, printOrderIDs)[0])
	assert.Equal(t, domain.PurchaseStatusPending, env.purchaseStatuses(t, purchaseIDs)[0])
}

func TestHandleEvent_PermanentDeclineCancelsOrder(t *testing.T) {
	env := newTestEnv()
	env.charger.result = payment.ChargeResult{
		Outcome:     payment.OutcomePermanentlyFailed,
		FailureKind: payment.FailureCardDeclined,
		Message:     "card declined",
	}
	purchaseIDs, printOrderIDs := env.seedBatch(t, "ord_1", 1500, 2000)

	require.NoError(t, env.rec.HandleEvent(context.Background(), stageEvent("ord_1", domain.StageInProgress)))

	// Compensating cancellation: the fulfiller is told to stop exactly once.
	assert.Equal(t, []string{"ord_1"}, env.gateway.cancelCalls)

	for _, status := range env.printOrderStatuses(t, printOrderIDs) {
		assert.Equal(t, domain.PrintOrderStatusCancelled, status)
	}
	for _, id := range purchaseIDs {
		p, err := env.purchases.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.PurchaseStatusCancelled, p.Status)
		assert.Nil(t, p.PaymentReference)
	}

	// A late duplicate delivery finds nothing chargeable and changes nothing.
	require.NoError(t, env.rec.HandleEvent(context.Background(), stageEvent("ord_1", domain.StageInProgress)))
	assert.Equal(t, 1, env.charger.attempts)
	assert.Equal(t, 1, env.gateway.cancelCount())
}

func TestHandleEvent_PermanentDeclineCancelsEvenIfFulfillerRefuses(t *testing.T) {
	env := newTestEnv()
	env.charger.result = payment.ChargeResult{
		Outcome:     payment.OutcomePermanentlyFailed,
		FailureKind: payment.FailureInsufficientFunds,
	}
	env.gateway.cancelErr = assert.AnError
	purchaseIDs, printOrderIDs := env.seedBatch(t, "ord_1", 1500)

	require.NoError(t, env.rec.HandleEvent(context.Background(), stageEvent("ord_1", domain.StageInProgress)))

	assert.Equal(t, domain.PrintOrderStatusCancelled, env.printOrderStatuses(t, printOrderIDs)[0])
	assert.Equal(t, domain.PurchaseStatusCancelled, env.purchaseStatuses(t, purchaseIDs)[0])
}

func TestHandleEvent_CancelledStage(t *testing.T) {
	env := newTestEnv()
	purchaseIDs, printOrderIDs := env.seedBatch(t, "ord_1", 1500, 2000)

	require.NoError(t, env.rec.HandleEvent(context.Background(), stageEvent("ord_1", domain.StageCancelled)))

	for _, status := range env.printOrderStatuses(t, printOrderIDs) {
		assert.Equal(t, domain.PrintOrderStatusCancelled, status)
	}
	for _, status := range env.purchaseStatuses(t, purchaseIDs) {
		assert.Equal(t, domain.PurchaseStatusCancelled, status)
	}
	assert.Zero(t, env.charger.attempts)

	// Repeat delivery of the cancellation is a no-op.
	require.NoError(t, env.rec.HandleEvent(context.Background(), stageEvent("ord_1", domain.StageCancelled)))
	assert.Zero(t, env.charger.attempts)
}

func TestHandleEvent_CancelledStageKeepsPaidPurchase(t *testing.T) {
	env := newTestEnv()
	env.charger.result = payment.ChargeResult{Outcome: payment.OutcomeSucceeded, PaymentReference: "ch_1"}
	purchaseIDs, printOrderIDs := env.seedBatch(t, "ord_1", 1500)

	ctx := context.Background()
	require.NoError(t, env.rec.HandleEvent(ctx, stageEvent("ord_1", domain.StageInProgress)))
	require.Equal(t, domain.PrintOrderStatusPending, env.printOrderStatuses(t, printOrderIDs)[0])

	// A cancellation arriving after the charge leaves the paid purchase
	// alone; refund handling is a manual process.
	require.NoError(t, env.rec.HandleEvent(ctx, stageEvent("ord_1", domain.StageCancelled)))
	assert.Equal(t, domain.PrintOrderStatusPending, env.printOrderStatuses(t, printOrderIDs)[0])
	assert.Equal(t, domain.PurchaseStatusPending, env.purchaseStatuses(t, purchaseIDs)[0])
}

func TestHandleEvent_CompleteBeforeInProgressStillCharges(t *testing.T) {
	env := newTestEnv()
	env.charger.result = payment.ChargeResult{Outcome: payment.OutcomeSucceeded, PaymentReference: "ch_1"}
	purchaseIDs, printOrderIDs := env.seedBatch(t, "ord_1", 1500)

	// Complete delivered first: production implicitly started, so the charge
	// runs. The purchase stays pending until a later Complete confirms the
	// paid state.
	ctx := context.Background()
	require.NoError(t, env.rec.HandleEvent(ctx, stageEvent("ord_1", domain.StageComplete)))

	assert.Equal(t, 1, env.charger.attempts)
	assert.Equal(t, domain.PrintOrderStatusPending, env.printOrderStatuses(t, printOrderIDs)[0])
	assert.Equal(t, domain.PurchaseStatusPending, env.purchaseStatuses(t, purchaseIDs)[0])

	// The duplicate Complete now finds a paid purchase and completes it.
	require.NoError(t, env.rec.HandleEvent(ctx, stageEvent("ord_1", domain.StageComplete)))
	assert.Equal(t, 1, env.charger.attempts)
	assert.Equal(t, domain.PurchaseStatusCompleted, env.purchaseStatuses(t, purchaseIDs)[0])
}

func TestHandleEvent_CompleteAfterChargeCompletesPurchases(t *testing.T) {
	env := newTestEnv()
	env.charger.result = payment.ChargeResult{Outcome: payment.OutcomeSucceeded, PaymentReference: "ch_1"}
	purchaseIDs, printOrderIDs := env.seedBatch(t, "ord_1", 1500, 2000)

	ctx := context.Background()
	require.NoError(t, env.rec.HandleEvent(ctx, stageEvent("ord_1", domain.StageInProgress)))
	require.NoError(t, env.rec.HandleEvent(ctx, stageEvent("ord_1", domain.StageComplete)))

	for _, status := range env.purchaseStatuses(t, purchaseIDs) {
		assert.Equal(t, domain.PurchaseStatusCompleted, status)
	}
	for _, status := range env.printOrderStatuses(t, printOrderIDs) {
		assert.Equal(t, domain.PrintOrderStatusPending, status)
	}
	assert.Equal(t, 1, env.charger.attempts)
}

func TestHandleEvent_RetriesBatchStuckInCharging(t *testing.T) {
	env := newTestEnv()
	env.charger.result = payment.ChargeResult{Outcome: payment.OutcomeSucceeded, PaymentReference: "ch_1"}
	purchaseIDs, printOrderIDs := env.seedBatch(t, "ord_1", 1500)

	// Simulate a crash mid-charge: the lock was taken but never released.
	locked, err := env.orders.AcquireCharging(context.Background(), "ord_1")
	require.NoError(t, err)
	require.Equal(t, int64(1), locked)

	require.NoError(t, env.rec.HandleEvent(context.Background(), stageEvent("ord_1", domain.StageInProgress)))

	// The stuck batch is retried under the original idempotency key.
	require.Len(t, env.charger.requests, 1)
	assert.Equal(t, "po-charge-ord_1", env.charger.requests[0].IdempotencyKey)
	assert.Equal(t, domain.PrintOrderStatusPending, env.printOrderStatuses(t, printOrderIDs)[0])
	assert.Equal(t, domain.PurchaseStatusPending, env.purchaseStatuses(t, purchaseIDs)[0])
}

func TestHandleEvent_OrphanWebhook(t *testing.T) {
	env := newTestEnv()

	err := env.rec.HandleEvent(context.Background(), stageEvent("ord_unknown", domain.StageInProgress))
	require.NoError(t, err)
	assert.Zero(t, env.charger.attempts)
}

func TestHandleEvent_UnknownStageUpdatesTrackingOnly(t *testing.T) {
	env := newTestEnv()
	_, printOrderIDs := env.seedBatch(t, "ord_1", 1500)

	event := stageEvent("ord_1", domain.StageUnknown)
	event.Shipments = []domain.Shipment{{
		Carrier:        "FedEx",
		TrackingNumber: "TRK123",
		TrackingURL:    "https://track.example/TRK123",
	}}
	require.NoError(t, env.rec.HandleEvent(context.Background(), event))

	o, err := env.orders.GetByID(context.Background(), printOrderIDs[0])
	require.NoError(t, err)
	assert.Equal(t, domain.PrintOrderStatusCreating, o.Status)
	require.NotNil(t, o.TrackingNumber)
	assert.Equal(t, "TRK123", *o.TrackingNumber)
	require.NotNil(t, o.TrackingCarrier)
	assert.Equal(t, "FedEx", *o.TrackingCarrier)
	assert.Equal(t, event.Raw, o.LastWebhookPayload)
	assert.Zero(t, env.charger.attempts)
}

func TestHandleEvent_TrackingSurvivesEmptyFollowup(t *testing.T) {
	env := newTestEnv()
	_, printOrderIDs := env.seedBatch(t, "ord_1", 1500)

	ctx := context.Background()
	withTracking := stageEvent("ord_1", domain.StageUnknown)
	withTracking.Shipments = []domain.Shipment{{TrackingNumber: "TRK123"}}
	require.NoError(t, env.rec.HandleEvent(ctx, withTracking))

	// A later delivery without shipment details must not erase tracking.
	require.NoError(t, env.rec.HandleEvent(ctx, stageEvent("ord_1", domain.StageUnknown)))

	o, err := env.orders.GetByID(ctx, printOrderIDs[0])
	require.NoError(t, err)
	require.NotNil(t, o.TrackingNumber)
	assert.Equal(t, "TRK123", *o.TrackingNumber)
}
