package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/internal/payments"
	"github.com/calmora/clinic-booking/pkg/logging"
)

// PaymentsHandler exposes order/intent creation and callback verification.
type PaymentsHandler struct {
	service *payments.Service
	logger  *logging.Logger
}

// NewPaymentsHandler creates the handler.
func NewPaymentsHandler(service *payments.Service, logger *logging.Logger) *PaymentsHandler {
	if service == nil {
		panic("handlers: payment service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PaymentsHandler{service: service, logger: logger}
}

type createPaymentRequest struct {
	ServiceID   uuid.UUID `json:"service_id"`
	AmountCents int64     `json:"amount_cents"`
}

// CreateOrder handles POST /payments/orders (web checkout).
func (h *PaymentsHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r, "")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, &domain.ValidationError{Field: "body", Reason: "invalid json"})
		return
	}
	order, err := h.service.CreateCheckoutOrder(r.Context(), payments.CreateOrderInput{
		UserID:             userID,
		ServiceID:          req.ServiceID,
		ClaimedAmountCents: req.AmountCents,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// CreateIntent handles POST /payments/intents (native sheet).
func (h *PaymentsHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r, "")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, &domain.ValidationError{Field: "body", Reason: "invalid json"})
		return
	}
	intent, err := h.service.CreateSheetIntent(r.Context(), payments.CreateOrderInput{
		UserID:             userID,
		ServiceID:          req.ServiceID,
		ClaimedAmountCents: req.AmountCents,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, intent)
}

type verifyCheckoutRequest struct {
	OrderID   string `json:"gateway_order_id"`
	PaymentID string `json:"gateway_payment_id"`
	Signature string `json:"signature"`
}

type proofResponse struct {
	Method           string `json:"method"`
	Status           string `json:"status"`
	Gateway          string `json:"gateway"`
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	AmountCents      int64  `json:"amount_cents"`
}

func proofToResponse(p *domain.PaymentProof) proofResponse {
	return proofResponse{
		Method:           string(p.Method),
		Status:           string(p.Status),
		Gateway:          p.Gateway,
		GatewayOrderID:   p.GatewayOrderID,
		GatewayPaymentID: p.GatewayPaymentID,
		AmountCents:      p.AmountCents,
	}
}

// VerifyCheckout handles POST /payments/verify.
func (h *PaymentsHandler) VerifyCheckout(w http.ResponseWriter, r *http.Request) {
	if _, err := principal(r, ""); err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req verifyCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, &domain.ValidationError{Field: "body", Reason: "invalid json"})
		return
	}
	proof, err := h.service.VerifyCheckout(r.Context(), req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proof": proofToResponse(proof)})
}

// SheetProof handles GET /payments/intents/{intentID}/proof. Returns 409
// AWAITING_CONFIRMATION until the provider webhook lands.
func (h *PaymentsHandler) SheetProof(w http.ResponseWriter, r *http.Request) {
	if _, err := principal(r, ""); err != nil {
		writeError(w, h.logger, err)
		return
	}
	intentID := chi.URLParam(r, "intentID")
	proof, err := h.service.SheetProof(r.Context(), intentID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proof": proofToResponse(proof)})
}
