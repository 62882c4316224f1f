package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vesabooks/printapi/internal/domain"
	"github.com/vesabooks/printapi/internal/fulfiller"
	"github.com/vesabooks/printapi/internal/payment"
	"github.com/vesabooks/printapi/pkg/errors"
)

// memPurchaseRepo implements repository.PurchaseRepository in memory for
// testing. All methods are safe for concurrent use so concurrent-delivery
// tests exercise the same interleavings the real repositories allow.
type memPurchaseRepo struct {
	mu        sync.Mutex
	purchases []*domain.Purchase
	createErr error
}

func (m *memPurchaseRepo) Create(_ context.Context, purchase *domain.Purchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if purchase.ID == uuid.Nil {
		purchase.ID = uuid.New()
	}
	now := time.Now()
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = now
	}
	if purchase.UpdatedAt.IsZero() {
		purchase.UpdatedAt = now
	}
	m.purchases = append(m.purchases, clonePurchase(purchase))
	return nil
}

func (m *memPurchaseRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.purchases {
		if p.ID == id {
			return clonePurchase(p), nil
		}
	}
	return nil, &errors.ErrNotFound{Resource: "purchase", ID: id.String()}
}

func (m *memPurchaseRepo) ListByIDs(_ context.Context, ids []uuid.UUID) ([]*domain.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []*domain.Purchase
	for _, p := range m.purchases {
		if want[p.ID] {
			out = append(out, clonePurchase(p))
		}
	}
	return out, nil
}

func (m *memPurchaseRepo) ListByOrderReference(_ context.Context, orderReference string) ([]*domain.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Purchase
	for _, p := range m.purchases {
		if p.OrderReference == orderReference {
			out = append(out, clonePurchase(p))
		}
	}
	return out, nil
}

func (m *memPurchaseRepo) ListByUserID(_ context.Context, userID string, limit, offset int) ([]*domain.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Purchase
	for _, p := range m.purchases {
		if p.UserID == userID {
			out = append(out, clonePurchase(p))
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPurchaseRepo) UpdateStatusByIDs(_ context.Context, ids []uuid.UUID, status domain.PurchaseStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		for _, p := range m.purchases {
			if p.ID == id {
				p.Status = status
			}
		}
	}
	return nil
}

func (m *memPurchaseRepo) SetPaymentReference(_ context.Context, ids []uuid.UUID, paymentReference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		for _, p := range m.purchases {
			if p.ID == id {
				ref := paymentReference
				p.PaymentReference = &ref
			}
		}
	}
	return nil
}

// memPrintOrderRepo implements repository.PrintOrderRepository in memory. The
// conditional status updates mirror the SQL: the current status is checked
// and changed under one lock, and the affected-row count is returned.
type memPrintOrderRepo struct {
	mu        sync.Mutex
	orders    []*domain.PrintOrder
	createErr error
	attachErr error
}

func (m *memPrintOrderRepo) Create(_ context.Context, order *domain.PrintOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = now
	}
	m.orders = append(m.orders, clonePrintOrder(order))
	return nil
}

func (m *memPrintOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.PrintOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID == id {
			return clonePrintOrder(o), nil
		}
	}
	return nil, &errors.ErrNotFound{Resource: "print_order", ID: id.String()}
}

func (m *memPrintOrderRepo) GetByPurchaseID(_ context.Context, purchaseID uuid.UUID) (*domain.PrintOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.PurchaseID == purchaseID {
			return clonePrintOrder(o), nil
		}
	}
	return nil, &errors.ErrNotFound{Resource: "print_order", ID: purchaseID.String()}
}

func (m *memPrintOrderRepo) ListByFulfillerOrderID(_ context.Context, fulfillerOrderID string) ([]*domain.PrintOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PrintOrder
	for _, o := range m.orders {
		if o.FulfillerOrderID != nil && *o.FulfillerOrderID == fulfillerOrderID {
			out = append(out, clonePrintOrder(o))
		}
	}
	return out, nil
}

func (m *memPrintOrderRepo) ListByFulfillerOrderIDAndStatus(_ context.Context, fulfillerOrderID string, status domain.PrintOrderStatus) ([]*domain.PrintOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PrintOrder
	for _, o := range m.orders {
		if o.FulfillerOrderID != nil && *o.FulfillerOrderID == fulfillerOrderID && o.Status == status {
			out = append(out, clonePrintOrder(o))
		}
	}
	return out, nil
}

func (m *memPrintOrderRepo) ListByStatus(_ context.Context, status domain.PrintOrderStatus, limit, offset int) ([]*domain.PrintOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PrintOrder
	for _, o := range m.orders {
		if o.Status == status {
			out = append(out, clonePrintOrder(o))
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPrintOrderRepo) AttachFulfillerOrderID(_ context.Context, ids []uuid.UUID, fulfillerOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attachErr != nil {
		return m.attachErr
	}
	for _, id := range ids {
		for _, o := range m.orders {
			if o.ID == id {
				foid := fulfillerOrderID
				o.FulfillerOrderID = &foid
			}
		}
	}
	return nil
}

func (m *memPrintOrderRepo) MarkFailed(_ context.Context, id uuid.UUID, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID == id {
			o.Status = domain.PrintOrderStatusFailed
			msg := errorMessage
			o.ErrorMessage = &msg
		}
	}
	return nil
}

func (m *memPrintOrderRepo) AcquireCharging(_ context.Context, fulfillerOrderID string) (int64, error) {
	return m.conditionalMove(fulfillerOrderID, domain.PrintOrderStatusCreating, domain.PrintOrderStatusCharging)
}

func (m *memPrintOrderRepo) FinishCharging(_ context.Context, fulfillerOrderID string, to domain.PrintOrderStatus) (int64, error) {
	if !domain.PrintOrderStatusCharging.CanTransitionTo(to) {
		return 0, &errors.ErrInvalidStateTransition{From: domain.PrintOrderStatusCharging, To: to}
	}
	return m.conditionalMove(fulfillerOrderID, domain.PrintOrderStatusCharging, to)
}

func (m *memPrintOrderRepo) CancelActive(_ context.Context, fulfillerOrderID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var moved int64
	for _, o := range m.orders {
		if o.FulfillerOrderID == nil || *o.FulfillerOrderID != fulfillerOrderID {
			continue
		}
		if o.Status == domain.PrintOrderStatusCreating || o.Status == domain.PrintOrderStatusCharging {
			o.Status = domain.PrintOrderStatusCancelled
			moved++
		}
	}
	return moved, nil
}

func (m *memPrintOrderRepo) UpdateTracking(_ context.Context, fulfillerOrderID string, shipment *domain.Shipment, rawPayload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.FulfillerOrderID == nil || *o.FulfillerOrderID != fulfillerOrderID {
			continue
		}
		if shipment != nil {
			if shipment.Carrier != "" {
				carrier := shipment.Carrier
				o.TrackingCarrier = &carrier
			}
			if shipment.TrackingNumber != "" {
				number := shipment.TrackingNumber
				o.TrackingNumber = &number
			}
			if shipment.TrackingURL != "" {
				url := shipment.TrackingURL
				o.TrackingURL = &url
			}
			if shipment.DispatchDate != nil {
				dispatched := *shipment.DispatchDate
				o.DispatchedAt = &dispatched
			}
		}
		if rawPayload != nil {
			o.LastWebhookPayload = append([]byte(nil), rawPayload...)
		}
		o.UpdatedAt = time.Now()
	}
	return nil
}

func (m *memPrintOrderRepo) ListStuckCreating(_ context.Context, updatedBefore time.Time, limit int) ([]*domain.PrintOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PrintOrder
	for _, o := range m.orders {
		if o.Status == domain.PrintOrderStatusCreating && o.FulfillerOrderID != nil && o.UpdatedAt.Before(updatedBefore) {
			out = append(out, clonePrintOrder(o))
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// conditionalMove is the mock counterpart of the conditional UPDATE: status
// check and change happen under one lock and the moved count is returned.
func (m *memPrintOrderRepo) conditionalMove(fulfillerOrderID string, from, to domain.PrintOrderStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var moved int64
	for _, o := range m.orders {
		if o.FulfillerOrderID != nil && *o.FulfillerOrderID == fulfillerOrderID && o.Status == from {
			o.Status = to
			o.UpdatedAt = time.Now()
			moved++
		}
	}
	return moved, nil
}

func clonePurchase(p *domain.Purchase) *domain.Purchase {
	c := *p
	return &c
}

func clonePrintOrder(o *domain.PrintOrder) *domain.PrintOrder {
	c := *o
	return &c
}

// fakeCharger implements payment.Charger and behaves like the processor's
// idempotency layer: the first request under a key that settles (succeeds or
// permanently fails) is recorded, and every later request under the same key
// returns the recorded result without a new charge.
type fakeCharger struct {
	mu      sync.Mutex
	result  payment.ChargeResult // outcome for the next unsettled key
	err     error
	settled map[string]*payment.ChargeResult

	attempts    int
	realCharges int
	requests    []payment.ChargeRequest
}

func (f *fakeCharger) Charge(_ context.Context, req *payment.ChargeRequest) (*payment.ChargeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	f.attempts++
	f.requests = append(f.requests, *req)

	if f.settled == nil {
		f.settled = make(map[string]*payment.ChargeResult)
	}
	if prior, ok := f.settled[req.IdempotencyKey]; ok {
		result := *prior
		return &result, nil
	}

	result := f.result
	if result.Outcome == payment.OutcomeSucceeded || result.Outcome == payment.OutcomePermanentlyFailed {
		f.realCharges++
		stored := result
		f.settled[req.IdempotencyKey] = &stored
	}
	return &result, nil
}

// fakeGateway implements FulfillerGateway, recording every call.
type fakeGateway struct {
	mu sync.Mutex

	createResp *fulfiller.OrderResponse
	createErr  error
	createReqs []*fulfiller.OrderRequest

	cancelErr   error
	cancelCalls []string

	statuses map[string]*fulfiller.StatusPayload
	getErr   error
}

func (f *fakeGateway) CreateOrder(_ context.Context, req *fulfiller.OrderRequest) (*fulfiller.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createReqs = append(f.createReqs, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.createResp, nil
}

func (f *fakeGateway) GetOrder(_ context.Context, orderID string) (*fulfiller.StatusPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	payload, ok := f.statuses[orderID]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "fulfiller_order", ID: orderID}
	}
	return payload, nil
}

func (f *fakeGateway) CancelOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls = append(f.cancelCalls, orderID)
	return f.cancelErr
}

func (f *fakeGateway) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancelCalls)
}
