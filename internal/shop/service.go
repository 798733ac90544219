package shop

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/pkg/logging"
)

// orderStore is the Order Authority surface the service drives.
type orderStore interface {
	ProductPriceCents(ctx context.Context, productID uuid.UUID) (int64, error)
	CouponDiscountCents(ctx context.Context, code string, subtotalCents int64) (int64, error)
	PlaceOrder(ctx context.Context, order domain.Order, lines []PricedLine, idempotencyKey string) (*domain.Order, error)
}

// Service prices and places shop orders. Every line price and the totals
// are recomputed from the catalog; the client's cached prices are ignored
// entirely at commit time.
type Service struct {
	store          orderStore
	taxBasisPoints int64
	shippingCents  int64
	logger         *logging.Logger
}

// NewService creates the order service. taxBasisPoints is the tax rate in
// hundredths of a percent (1800 = 18%); shippingCents is a flat fee.
func NewService(store orderStore, taxBasisPoints, shippingCents int64, logger *logging.Logger) *Service {
	if store == nil {
		panic("shop: order store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:          store,
		taxBasisPoints: taxBasisPoints,
		shippingCents:  shippingCents,
		logger:         logger,
	}
}

// PlaceOrderInput is one order submission. Line CachedPriceCents values are
// carried for drift warnings only and play no part in pricing.
type PlaceOrderInput struct {
	UserID         uuid.UUID
	Lines          []domain.CartLine
	CouponCode     string
	IdempotencyKey string
}

// PlaceOrder recomputes every line price server-side and commits the order
// through the Authority. Retries with the same idempotency key resolve to
// the original order.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*domain.Order, error) {
	ctx, span := shopTracer.Start(ctx, "shop.place_order")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.user_id", in.UserID.String()))

	if in.UserID == uuid.Nil {
		return nil, &domain.ValidationError{Field: "user_id", Reason: "required"}
	}
	if len(in.Lines) == 0 {
		return nil, &domain.ValidationError{Field: "lines", Reason: "cart is empty"}
	}
	if in.IdempotencyKey == "" {
		return nil, &domain.ValidationError{Field: "idempotency_key", Reason: "required"}
	}

	var (
		priced   []PricedLine
		subtotal int64
	)
	for _, line := range in.Lines {
		if line.ProductID == uuid.Nil {
			return nil, &domain.ValidationError{Field: "product_id", Reason: "required"}
		}
		if line.Quantity <= 0 {
			return nil, &domain.ValidationError{Field: "quantity", Reason: "must be positive"}
		}
		price, err := s.store.ProductPriceCents(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		priced = append(priced, PricedLine{ProductID: line.ProductID, Quantity: line.Quantity, PriceCents: price})
		subtotal += price * int64(line.Quantity)
	}

	discount, err := s.store.CouponDiscountCents(ctx, in.CouponCode, subtotal)
	if err != nil {
		return nil, err
	}
	taxable := subtotal - discount
	tax := taxable * s.taxBasisPoints / 10000

	order := domain.Order{
		ID:            uuid.New(),
		UserID:        in.UserID,
		SubtotalCents: subtotal,
		DiscountCents: discount,
		TaxCents:      tax,
		ShippingCents: s.shippingCents,
		TotalCents:    taxable + tax + s.shippingCents,
		CouponCode:    in.CouponCode,
	}
	return s.store.PlaceOrder(ctx, order, priced, in.IdempotencyKey)
}
