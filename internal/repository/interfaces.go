package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vesabooks/printapi/internal/domain"
)

// PurchaseRepository defines purchase data access methods
type PurchaseRepository interface {
	Create(ctx context.Context, purchase *domain.Purchase) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Purchase, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Purchase, error)
	ListByOrderReference(ctx context.Context, orderReference string) ([]*domain.Purchase, error)
	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*domain.Purchase, error)
	UpdateStatusByIDs(ctx context.Context, ids []uuid.UUID, status domain.PurchaseStatus) error
	SetPaymentReference(ctx context.Context, ids []uuid.UUID, paymentReference string) error
}

// PrintOrderRepository defines print order data access methods.
//
// Mutations on the webhook path are keyed by fulfiller order id so every
// record of a batch moves together, and the status-changing ones are
// conditional writes: the WHERE clause names the expected current status and
// the affected-row count tells the caller whether it won the transition.
type PrintOrderRepository interface {
	Create(ctx context.Context, order *domain.PrintOrder) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PrintOrder, error)
	GetByPurchaseID(ctx context.Context, purchaseID uuid.UUID) (*domain.PrintOrder, error)
	ListByFulfillerOrderID(ctx context.Context, fulfillerOrderID string) ([]*domain.PrintOrder, error)
	ListByFulfillerOrderIDAndStatus(ctx context.Context, fulfillerOrderID string, status domain.PrintOrderStatus) ([]*domain.PrintOrder, error)
	ListByStatus(ctx context.Context, status domain.PrintOrderStatus, limit, offset int) ([]*domain.PrintOrder, error)

	// AttachFulfillerOrderID stores the fulfiller's order id on every record
	// of a freshly submitted batch.
	AttachFulfillerOrderID(ctx context.Context, ids []uuid.UUID, fulfillerOrderID string) error

	// MarkFailed moves one order to failed with an error message. Used only
	// on the submission path, before any charge is possible.
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error

	// AcquireCharging performs the atomic lock transition creating ->
	// charging for a whole batch and returns the number of rows moved. Zero
	// means another delivery already owns the transition or the batch is
	// terminal.
	AcquireCharging(ctx context.Context, fulfillerOrderID string) (int64, error)

	// FinishCharging conditionally moves charging rows of a batch to the
	// given status (pending on success, creating on transient failure,
	// cancelled on permanent failure) and returns the number of rows moved.
	FinishCharging(ctx context.Context, fulfillerOrderID string, to domain.PrintOrderStatus) (int64, error)

	// CancelActive moves every non-terminal (creating or charging) record of
	// a batch to cancelled.
	CancelActive(ctx context.Context, fulfillerOrderID string) (int64, error)

	// UpdateTracking unconditionally applies tracking fields and the raw
	// webhook payload to a batch. It never touches status.
	UpdateTracking(ctx context.Context, fulfillerOrderID string, shipment *domain.Shipment, rawPayload []byte) error

	// ListStuckCreating returns submitted orders still in creating whose last
	// update is older than the cutoff. Input for the reconciliation sweep.
	ListStuckCreating(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.PrintOrder, error)
}

// Repositories aggregates all repositories
type Repositories struct {
	Purchase   PurchaseRepository
	PrintOrder PrintOrderRepository
}
