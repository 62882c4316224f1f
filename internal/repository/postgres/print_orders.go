package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/vesabooks/printapi/internal/domain"
	"github.com/vesabooks/printapi/pkg/errors"
)

type printOrderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPrintOrderRepository creates a new print order repository
func NewPrintOrderRepository(db *sql.DB, logger *zap.Logger) *printOrderRepository {
	return &printOrderRepository{
		db:     db,
		logger: logger,
	}
}

const printOrderColumns = `
	id, purchase_id, fulfiller_order_id, status, payment_method_reference,
	tracking_carrier, tracking_number, tracking_url, dispatched_at,
	last_webhook_payload, error_message, created_at, updated_at
`

func (r *printOrderRepository) Create(ctx context.Context, order *domain.PrintOrder) error {
	query := `
		INSERT INTO print_orders (
			id, purchase_id, fulfiller_order_id, status, payment_method_reference,
			tracking_carrier, tracking_number, tracking_url, dispatched_at,
			last_webhook_payload, error_message, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	now := time.Now()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = now
	}

	_, err := r.db.ExecContext(ctx, query,
		order.ID,
		order.PurchaseID,
		order.FulfillerOrderID,
		order.Status,
		order.PaymentMethodReference,
		order.TrackingCarrier,
		order.TrackingNumber,
		order.TrackingURL,
		order.DispatchedAt,
		order.LastWebhookPayload,
		order.ErrorMessage,
		order.CreatedAt,
		order.UpdatedAt,
	)

	if err != nil {
		r.logger.Error("Failed to create print order", zap.Error(err))
		return err
	}

	return nil
}

func (r *printOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PrintOrder, error) {
	query := `SELECT ` + printOrderColumns + ` FROM print_orders WHERE id = $1`

	order, err := scanPrintOrder(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "print_order", ID: id.String()}
	}
	if err != nil {
		r.logger.Error("Failed to get print order by ID", zap.Error(err))
		return nil, err
	}

	return order, nil
}

func (r *printOrderRepository) GetByPurchaseID(ctx context.Context, purchaseID uuid.UUID) (*domain.PrintOrder, error) {
	query := `SELECT ` + printOrderColumns + ` FROM print_orders WHERE purchase_id = $1`

	order, err := scanPrintOrder(r.db.QueryRowContext(ctx, query, purchaseID))
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "print_order", ID: purchaseID.String()}
	}
	if err != nil {
		r.logger.Error("Failed to get print order by purchase ID", zap.Error(err))
		return nil, err
	}

	return order, nil
}

func (r *printOrderRepository) ListByFulfillerOrderID(ctx context.Context, fulfillerOrderID string) ([]*domain.PrintOrder, error) {
	query := `
		SELECT ` + printOrderColumns + `
		FROM print_orders
		WHERE fulfiller_order_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, fulfillerOrderID)
	if err != nil {
		r.logger.Error("Failed to list print orders by fulfiller order ID", zap.Error(err),
			zap.String("fulfiller_order_id", fulfillerOrderID))
		return nil, err
	}
	defer rows.Close()

	return collectPrintOrders(rows)
}

func (r *printOrderRepository) ListByFulfillerOrderIDAndStatus(ctx context.Context, fulfillerOrderID string, status domain.PrintOrderStatus) ([]*domain.PrintOrder, error) {
	query := `
		SELECT ` + printOrderColumns + `
		FROM print_orders
		WHERE fulfiller_order_id = $1 AND status = $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, fulfillerOrderID, status)
	if err != nil {
		r.logger.Error("Failed to list print orders by fulfiller order ID and status", zap.Error(err),
			zap.String("fulfiller_order_id", fulfillerOrderID), zap.String("status", string(status)))
		return nil, err
	}
	defer rows.Close()

	return collectPrintOrders(rows)
}

func (r *printOrderRepository) ListByStatus(ctx context.Context, status domain.PrintOrderStatus, limit, offset int) ([]*domain.PrintOrder, error) {
	query := `
		SELECT ` + printOrderColumns + `
		FROM print_orders
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, status, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list print orders by status", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	return collectPrintOrders(rows)
}

func (r *printOrderRepository) AttachFulfillerOrderID(ctx context.Context, ids []uuid.UUID, fulfillerOrderID string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE print_orders
		SET fulfiller_order_id = $2, updated_at = $3
		WHERE id = ANY($1)
	`

	_, err := r.db.ExecContext(ctx, query, pq.Array(uuidStrings(ids)), fulfillerOrderID, time.Now())
	if err != nil {
		r.logger.Error("Failed to attach fulfiller order ID", zap.Error(err),
			zap.String("fulfiller_order_id", fulfillerOrderID))
		return err
	}

	return nil
}

func (r *printOrderRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE print_orders
		SET status = $2, error_message = $3, updated_at = $4
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, id, domain.PrintOrderStatusFailed, errorMessage, time.Now())
	if err != nil {
		r.logger.Error("Failed to mark print order failed", zap.Error(err), zap.String("print_order_id", id.String()))
		return err
	}

	return nil
}

// AcquireCharging is the charge lock: a conditional batch update that only
// moves rows currently in creating. The affected-row count decides ownership;
// this must stay a single UPDATE so concurrent webhook deliveries serialize
// on the database rather than on a read-then-write race.
func (r *printOrderRepository) AcquireCharging(ctx context.Context, fulfillerOrderID string) (int64, error) {
	query := `
		UPDATE print_orders
		SET status = $2, updated_at = $3
		WHERE fulfiller_order_id = $1 AND status = $4
	`

	res, err := r.db.ExecContext(ctx, query, fulfillerOrderID,
		domain.PrintOrderStatusCharging, time.Now(), domain.PrintOrderStatusCreating)
	if err != nil {
		r.logger.Error("Failed to acquire charging lock", zap.Error(err),
			zap.String("fulfiller_order_id", fulfillerOrderID))
		return 0, err
	}

	return res.RowsAffected()
}

func (r *printOrderRepository) FinishCharging(ctx context.Context, fulfillerOrderID string, to domain.PrintOrderStatus) (int64, error) {
	if !domain.PrintOrderStatusCharging.CanTransitionTo(to) {
		return 0, &errors.ErrInvalidStateTransition{From: domain.PrintOrderStatusCharging, To: to}
	}

	query := `
		UPDATE print_orders
		SET status = $2, updated_at = $3
		WHERE fulfiller_order_id = $1 AND status = $4
	`

	res, err := r.db.ExecContext(ctx, query, fulfillerOrderID, to, time.Now(), domain.PrintOrderStatusCharging)
	if err != nil {
		r.logger.Error("Failed to finish charging", zap.Error(err),
			zap.String("fulfiller_order_id", fulfillerOrderID), zap.String("to", string(to)))
		return 0, err
	}

	return res.RowsAffected()
}

func (r *printOrderRepository) CancelActive(ctx context.Context, fulfillerOrderID string) (int64, error) {
	query := `
		UPDATE print_orders
		SET status = $2, updated_at = $3
		WHERE fulfiller_order_id = $1 AND status = ANY($4)
	`

	active := pq.Array([]string{
		string(domain.PrintOrderStatusCreating),
		string(domain.PrintOrderStatusCharging),
	})
	res, err := r.db.ExecContext(ctx, query, fulfillerOrderID,
		domain.PrintOrderStatusCancelled, time.Now(), active)
	if err != nil {
		r.logger.Error("Failed to cancel active print orders", zap.Error(err),
			zap.String("fulfiller_order_id", fulfillerOrderID))
		return 0, err
	}

	return res.RowsAffected()
}

// UpdateTracking applies tracking fields opportunistically: present values
// overwrite, absent values keep whatever a previous webhook delivered.
func (r *printOrderRepository) UpdateTracking(ctx context.Context, fulfillerOrderID string, shipment *domain.Shipment, rawPayload []byte) error {
	query := `
		UPDATE print_orders
		SET tracking_carrier = COALESCE(NULLIF($2, ''), tracking_carrier),
			tracking_number = COALESCE(NULLIF($3, ''), tracking_number),
			tracking_url = COALESCE(NULLIF($4, ''), tracking_url),
			dispatched_at = COALESCE($5, dispatched_at),
			last_webhook_payload = COALESCE($6, last_webhook_payload),
			updated_at = $7
		WHERE fulfiller_order_id = $1
	`

	var carrier, number, url string
	var dispatchedAt *time.Time
	if shipment != nil {
		carrier = shipment.Carrier
		number = shipment.TrackingNumber
		url = shipment.TrackingURL
		dispatchedAt = shipment.DispatchDate
	}

	_, err := r.db.ExecContext(ctx, query, fulfillerOrderID,
		carrier, number, url, dispatchedAt, rawPayload, time.Now())
	if err != nil {
		r.logger.Error("Failed to update tracking", zap.Error(err),
			zap.String("fulfiller_order_id", fulfillerOrderID))
		return err
	}

	return nil
}

func (r *printOrderRepository) ListStuckCreating(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.PrintOrder, error) {
	query := `
		SELECT ` + printOrderColumns + `
		FROM print_orders
		WHERE status = $1 AND fulfiller_order_id IS NOT NULL AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, domain.PrintOrderStatusCreating, updatedBefore, limit)
	if err != nil {
		r.logger.Error("Failed to list stuck print orders", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	return collectPrintOrders(rows)
}

func scanPrintOrder(row rowScanner) (*domain.PrintOrder, error) {
	var order domain.PrintOrder
	var fulfillerOrderID sql.NullString
	var trackingCarrier sql.NullString
	var trackingNumber sql.NullString
	var trackingURL sql.NullString
	var dispatchedAt sql.NullTime
	var errorMessage sql.NullString

	err := row.Scan(
		&order.ID,
		&order.PurchaseID,
		&fulfillerOrderID,
		&order.Status,
		&order.PaymentMethodReference,
		&trackingCarrier,
		&trackingNumber,
		&trackingURL,
		&dispatchedAt,
		&order.LastWebhookPayload,
		&errorMessage,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if fulfillerOrderID.Valid {
		order.FulfillerOrderID = &fulfillerOrderID.String
	}
	if trackingCarrier.Valid {
		order.TrackingCarrier = &trackingCarrier.String
	}
	if trackingNumber.Valid {
		order.TrackingNumber = &trackingNumber.String
	}
	if trackingURL.Valid {
		order.TrackingURL = &trackingURL.String
	}
	if dispatchedAt.Valid {
		order.DispatchedAt = &dispatchedAt.Time
	}
	if errorMessage.Valid {
		order.ErrorMessage = &errorMessage.String
	}

	return &order, nil
}

func collectPrintOrders(rows *sql.Rows) ([]*domain.PrintOrder, error) {
	var orders []*domain.PrintOrder
	for rows.Next() {
		order, err := scanPrintOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}
