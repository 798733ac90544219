package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/internal/shop"
	"github.com/calmora/clinic-booking/pkg/logging"
)

// OrdersHandler serves the shop: cart reconciliation and order placement.
type OrdersHandler struct {
	service    *shop.Service
	reconciler *shop.Reconciler
	logger     *logging.Logger
}

// NewOrdersHandler creates the handler.
func NewOrdersHandler(service *shop.Service, reconciler *shop.Reconciler, logger *logging.Logger) *OrdersHandler {
	if service == nil {
		panic("handlers: shop service required")
	}
	if reconciler == nil {
		panic("handlers: reconciler required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &OrdersHandler{service: service, reconciler: reconciler, logger: logger}
}

type cartLineRequest struct {
	ProductID  uuid.UUID `json:"product_id"`
	Quantity   int       `json:"quantity"`
	PriceCents int64     `json:"price_cents"`
}

func cartLines(lines []cartLineRequest) []domain.CartLine {
	out := make([]domain.CartLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, domain.CartLine{
			ProductID:        l.ProductID,
			Quantity:         l.Quantity,
			CachedPriceCents: l.PriceCents,
		})
	}
	return out
}

type reconcileRequest struct {
	Lines []cartLineRequest `json:"lines"`
}

// Reconcile handles POST /cart/reconcile.
func (h *OrdersHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if _, err := principal(r, ""); err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, &domain.ValidationError{Field: "body", Reason: "invalid json"})
		return
	}
	drifts, err := h.reconciler.Reconcile(r.Context(), cartLines(req.Lines))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if drifts == nil {
		drifts = []shop.LineDrift{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"clean": len(drifts) == 0,
		"drift": drifts,
	})
}

type placeOrderRequest struct {
	Lines          []cartLineRequest `json:"lines"`
	CouponCode     string            `json:"coupon_code"`
	IdempotencyKey string            `json:"idempotency_key"`
}

type orderResponse struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	SubtotalCents int64     `json:"subtotal_cents"`
	DiscountCents int64     `json:"discount_cents"`
	TaxCents      int64     `json:"tax_cents"`
	ShippingCents int64     `json:"shipping_cents"`
	TotalCents    int64     `json:"total_cents"`
	CouponCode    string    `json:"coupon_code,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Place handles POST /orders.
func (h *OrdersHandler) Place(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r, "")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, &domain.ValidationError{Field: "body", Reason: "invalid json"})
		return
	}
	order, err := h.service.PlaceOrder(r.Context(), shop.PlaceOrderInput{
		UserID:         userID,
		Lines:          cartLines(req.Lines),
		CouponCode:     req.CouponCode,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderResponse{
		ID:            order.ID,
		UserID:        order.UserID,
		SubtotalCents: order.SubtotalCents,
		DiscountCents: order.DiscountCents,
		TaxCents:      order.TaxCents,
		ShippingCents: order.ShippingCents,
		TotalCents:    order.TotalCents,
		CouponCode:    order.CouponCode,
		CreatedAt:     order.CreatedAt,
	})
}
