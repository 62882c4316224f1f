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

type purchaseRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPurchaseRepository creates a new purchase repository
func NewPurchaseRepository(db *sql.DB, logger *zap.Logger) *purchaseRepository {
	return &purchaseRepository{
		db:     db,
		logger: logger,
	}
}

const purchaseColumns = `
	id, order_reference, user_id, product_type, price, currency, status,
	payment_reference, book_size, spine_text, created_at, updated_at
`

func (r *purchaseRepository) Create(ctx context.Context, purchase *domain.Purchase) error {
	query := `
		INSERT INTO purchases (
			id, order_reference, user_id, product_type, price, currency, status,
			payment_reference, book_size, spine_text, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	now := time.Now()
	if purchase.ID == uuid.Nil {
		purchase.ID = uuid.New()
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = now
	}
	if purchase.UpdatedAt.IsZero() {
		purchase.UpdatedAt = now
	}

	_, err := r.db.ExecContext(ctx, query,
		purchase.ID,
		purchase.OrderReference,
		purchase.UserID,
		purchase.ProductType,
		purchase.Price,
		purchase.Currency,
		purchase.Status,
		purchase.PaymentReference,
		purchase.BookSize,
		purchase.SpineText,
		purchase.CreatedAt,
		purchase.UpdatedAt,
	)

	if err != nil {
		r.logger.Error("Failed to create purchase", zap.Error(err))
		return err
	}

	return nil
}

func (r *purchaseRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = $1`

	purchase, err := scanPurchase(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "purchase", ID: id.String()}
	}
	if err != nil {
		r.logger.Error("Failed to get purchase by ID", zap.Error(err))
		return nil, err
	}

	return purchase, nil
}

func (r *purchaseRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Purchase, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = ANY($1) ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(uuidStrings(ids)))
	if err != nil {
		r.logger.Error("Failed to list purchases by IDs", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	return collectPurchases(rows)
}

func (r *purchaseRepository) ListByOrderReference(ctx context.Context, orderReference string) ([]*domain.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE order_reference = $1 ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, orderReference)
	if err != nil {
		r.logger.Error("Failed to list purchases by order reference", zap.Error(err),
			zap.String("order_reference", orderReference))
		return nil, err
	}
	defer rows.Close()

	return collectPurchases(rows)
}

func (r *purchaseRepository) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*domain.Purchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM purchases
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list purchases by user ID", zap.Error(err), zap.String("user_id", userID))
		return nil, err
	}
	defer rows.Close()

	return collectPurchases(rows)
}

func (r *purchaseRepository) UpdateStatusByIDs(ctx context.Context, ids []uuid.UUID, status domain.PurchaseStatus) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE purchases
		SET status = $2, updated_at = $3
		WHERE id = ANY($1)
	`

	_, err := r.db.ExecContext(ctx, query, pq.Array(uuidStrings(ids)), status, time.Now())
	if err != nil {
		r.logger.Error("Failed to update purchase statuses", zap.Error(err))
		return err
	}

	return nil
}

func (r *purchaseRepository) SetPaymentReference(ctx context.Context, ids []uuid.UUID, paymentReference string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE purchases
		SET payment_reference = $2, updated_at = $3
		WHERE id = ANY($1)
	`

	_, err := r.db.ExecContext(ctx, query, pq.Array(uuidStrings(ids)), paymentReference, time.Now())
	if err != nil {
		r.logger.Error("Failed to set payment reference", zap.Error(err),
			zap.String("payment_reference", paymentReference))
		return err
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPurchase(row rowScanner) (*domain.Purchase, error) {
	var purchase domain.Purchase
	var paymentReference sql.NullString
	var bookSize sql.NullString
	var spineText sql.NullString

	err := row.Scan(
		&purchase.ID,
		&purchase.OrderReference,
		&purchase.UserID,
		&purchase.ProductType,
		&purchase.Price,
		&purchase.Currency,
		&purchase.Status,
		&paymentReference,
		&bookSize,
		&spineText,
		&purchase.CreatedAt,
		&purchase.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if paymentReference.Valid {
		purchase.PaymentReference = &paymentReference.String
	}
	if bookSize.Valid {
		purchase.BookSize = &bookSize.String
	}
	if spineText.Valid {
		purchase.SpineText = &spineText.String
	}

	return &purchase, nil
}

func collectPurchases(rows *sql.Rows) ([]*domain.Purchase, error) {
	var purchases []*domain.Purchase
	for rows.Next() {
		purchase, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, purchase)
	}
	return purchases, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
