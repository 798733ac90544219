package shop

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/pkg/logging"
)

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PricedLine is a cart line after server-side repricing.
type PricedLine struct {
	ProductID  uuid.UUID
	Quantity   int
	PriceCents int64
}

// Repository is the Postgres-backed Order Authority.
type Repository struct {
	db     DB
	logger *logging.Logger
}

// NewRepository creates the repository over a pgx pool.
func NewRepository(db DB, logger *logging.Logger) *Repository {
	if db == nil {
		panic("shop: db required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Repository{db: db, logger: logger}
}

// ProductPriceCents reads the current catalog price for a product.
func (r *Repository) ProductPriceCents(ctx context.Context, productID uuid.UUID) (int64, error) {
	var price int64
	err := r.db.QueryRow(ctx, `
		SELECT price_cents FROM products WHERE id = $1 AND active = TRUE
	`, productID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, &domain.ValidationError{Field: "product_id", Reason: "not found"}
	}
	if err != nil {
		return 0, fmt.Errorf("shop: load product price: %w", err)
	}
	return price, nil
}

// CouponDiscountCents resolves a coupon code against the subtotal. Unknown
// or inactive codes resolve to zero discount rather than an error.
func (r *Repository) CouponDiscountCents(ctx context.Context, code string, subtotalCents int64) (int64, error) {
	if code == "" {
		return 0, nil
	}
	var (
		percentOff int
		amountOff  int64
	)
	err := r.db.QueryRow(ctx, `
		SELECT percent_off, amount_off_cents FROM coupons WHERE code = $1 AND active = TRUE
	`, code).Scan(&percentOff, &amountOff)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("shop: load coupon: %w", err)
	}
	discount := amountOff
	if percentOff > 0 {
		discount += subtotalCents * int64(percentOff) / 100
	}
	if discount > subtotalCents {
		discount = subtotalCents
	}
	return discount, nil
}

// PlaceOrder persists the order and its lines in one transaction. The
// idempotency key carries a unique constraint: a replayed key loads and
// returns the original order instead of inserting a second one.
func (r *Repository) PlaceOrder(ctx context.Context, order domain.Order, lines []PricedLine, idempotencyKey string) (*domain.Order, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("shop: begin place order: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (id, user_id, subtotal_cents, discount_cents, tax_cents, shipping_cents, total_cents, coupon_code, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING created_at
	`, order.ID, order.UserID, order.SubtotalCents, order.DiscountCents, order.TaxCents,
		order.ShippingCents, order.TotalCents, order.CouponCode, idempotencyKey).Scan(&order.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// Replay: the key already produced an order.
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			r.logger.Warn("rollback after replay detect failed", "error", rbErr)
		}
		return r.orderByKey(ctx, idempotencyKey)
	}
	if err != nil {
		return nil, fmt.Errorf("shop: insert order: %w", err)
	}

	for _, line := range lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_lines (order_id, product_id, quantity, price_cents)
			VALUES ($1, $2, $3, $4)
		`, order.ID, line.ProductID, line.Quantity, line.PriceCents); err != nil {
			return nil, fmt.Errorf("shop: insert order line: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("shop: commit order: %w", err)
	}
	r.logger.Info("order placed", "order_id", order.ID, "user_id", order.UserID, "total_cents", order.TotalCents)
	return &order, nil
}

func (r *Repository) orderByKey(ctx context.Context, idempotencyKey string) (*domain.Order, error) {
	var o domain.Order
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, subtotal_cents, discount_cents, tax_cents, shipping_cents, total_cents, coupon_code, created_at
		FROM orders
		WHERE idempotency_key = $1
	`, idempotencyKey).Scan(&o.ID, &o.UserID, &o.SubtotalCents, &o.DiscountCents, &o.TaxCents,
		&o.ShippingCents, &o.TotalCents, &o.CouponCode, &o.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("shop: load order by key: %w", err)
	}
	return &o, nil
}
