// Package shop carries the order side of the price-integrity pattern: the
// client's cart prices are advisory, the catalog price at commit time is
// truth. The reconciler warns the user early; PlaceOrder enforces.
package shop

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/pkg/logging"
)

var shopTracer = otel.Tracer("clinic.internal.shop")

// productSource reads current product prices from the catalog.
type productSource interface {
	ProductPriceCents(ctx context.Context, productID uuid.UUID) (int64, error)
}

// LineDrift reports a cart line whose cached price no longer matches the
// catalog.
type LineDrift struct {
	ProductID    uuid.UUID `json:"product_id"`
	CachedCents  int64     `json:"cached_cents"`
	CurrentCents int64     `json:"current_cents"`
}

// Reconciler flags price drift between a client cart and the catalog. It
// never rewrites the client's figures; enforcement happens in PlaceOrder.
type Reconciler struct {
	products productSource
	logger   *logging.Logger
}

// NewReconciler creates a reconciler over the product catalog.
func NewReconciler(products productSource, logger *logging.Logger) *Reconciler {
	if products == nil {
		panic("shop: product source required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{products: products, logger: logger}
}

// Reconcile re-reads the current price for every cart line and returns the
// lines that drifted. An empty result means the cart is still priced
// accurately.
func (r *Reconciler) Reconcile(ctx context.Context, lines []domain.CartLine) ([]LineDrift, error) {
	ctx, span := shopTracer.Start(ctx, "shop.reconcile")
	defer span.End()

	var drifts []LineDrift
	for _, line := range lines {
		if line.ProductID == uuid.Nil {
			return nil, &domain.ValidationError{Field: "product_id", Reason: "required"}
		}
		current, err := r.products.ProductPriceCents(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if current != line.CachedPriceCents {
			drifts = append(drifts, LineDrift{
				ProductID:    line.ProductID,
				CachedCents:  line.CachedPriceCents,
				CurrentCents: current,
			})
		}
	}
	if len(drifts) > 0 {
		r.logger.Info("cart price drift detected", "lines", len(drifts))
	}
	return drifts, nil
}
