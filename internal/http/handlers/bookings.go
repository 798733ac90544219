package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/calmora/clinic-booking/internal/booking"
	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/internal/http/middleware"
	"github.com/calmora/clinic-booking/pkg/logging"
)

// BookingsHandler drives booking creation and lifecycle over HTTP.
type BookingsHandler struct {
	orchestrator *booking.Orchestrator
	lifecycle    *booking.Lifecycle
	keys         booking.KeyFactory
	logger       *logging.Logger
}

// NewBookingsHandler creates the handler.
func NewBookingsHandler(orchestrator *booking.Orchestrator, lifecycle *booking.Lifecycle, logger *logging.Logger) *BookingsHandler {
	if orchestrator == nil {
		panic("handlers: orchestrator required")
	}
	if lifecycle == nil {
		panic("handlers: lifecycle required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingsHandler{orchestrator: orchestrator, lifecycle: lifecycle, logger: logger}
}

type paymentProofRequest struct {
	Method           string `json:"method"`
	Status           string `json:"status"`
	Gateway          string `json:"gateway"`
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	AmountCents      int64  `json:"amount_cents"`
}

type createBookingRequest struct {
	UserID         string              `json:"user_id"`
	ServiceID      uuid.UUID           `json:"service_id"`
	TherapistID    uuid.UUID           `json:"therapist_id"`
	SlotID         uuid.UUID           `json:"slot_id"`
	SlotDate       string              `json:"slot_date"`
	SlotStart      string              `json:"slot_start"`
	Payment        paymentProofRequest `json:"payment"`
	IdempotencyKey string              `json:"idempotency_key"`
	CouponCode     string              `json:"coupon_code"`
	DiscountCents  int64               `json:"discount_cents"`
	Notes          string              `json:"notes"`
	ProfileName    string              `json:"profile_name"`
	ProfilePhone   string              `json:"profile_phone"`
}

type appointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	ServiceID       uuid.UUID `json:"service_id"`
	TherapistID     uuid.UUID `json:"therapist_id"`
	SlotID          uuid.UUID `json:"slot_id"`
	Status          string    `json:"status"`
	PaymentMethod   string    `json:"payment_method"`
	PaymentStatus   string    `json:"payment_status"`
	AmountPaidCents int64     `json:"amount_paid_cents"`
	CreatedAt       time.Time `json:"created_at"`
}

func appointmentToResponse(appt *domain.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:              appt.ID,
		UserID:          appt.UserID,
		ServiceID:       appt.ServiceID,
		TherapistID:     appt.TherapistID,
		SlotID:          appt.SlotID,
		Status:          string(appt.Status),
		PaymentMethod:   string(appt.PaymentMethod),
		PaymentStatus:   string(appt.PaymentStatus),
		AmountPaidCents: appt.AmountPaidCents,
		CreatedAt:       appt.CreatedAt,
	}
}

// principal resolves the authenticated user and rejects a body user_id that
// disagrees with it.
func principal(r *http.Request, bodyUserID string) (uuid.UUID, error) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, &domain.AuthError{Reason: "not authenticated"}
	}
	if bodyUserID != "" {
		claimed, err := uuid.Parse(bodyUserID)
		if err != nil {
			return uuid.Nil, &domain.ValidationError{Field: "user_id", Reason: "invalid uuid"}
		}
		if claimed != userID {
			return uuid.Nil, &domain.AuthError{Reason: "user_id does not match the authenticated principal"}
		}
	}
	return userID, nil
}

// Create handles POST /bookings.
func (h *BookingsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, &domain.ValidationError{Field: "body", Reason: "invalid json"})
		return
	}
	userID, err := principal(r, req.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		if req.Payment.GatewayOrderID != "" {
			key = h.keys.ForGatewayOrder(req.Payment.GatewayOrderID)
		} else {
			key = h.keys.NewAttemptKey()
		}
	}

	result, err := h.orchestrator.Reserve(r.Context(), booking.ReserveInput{
		UserID:      userID,
		ServiceID:   req.ServiceID,
		TherapistID: req.TherapistID,
		SlotID:      req.SlotID,
		SlotDate:    req.SlotDate,
		SlotStart:   req.SlotStart,
		Proof: domain.PaymentProof{
			Method:           domain.PaymentMethod(req.Payment.Method),
			Status:           domain.PaymentStatus(req.Payment.Status),
			Gateway:          req.Payment.Gateway,
			GatewayOrderID:   req.Payment.GatewayOrderID,
			GatewayPaymentID: req.Payment.GatewayPaymentID,
			AmountCents:      req.Payment.AmountCents,
		},
		IdempotencyKey: key,
		CouponCode:     req.CouponCode,
		DiscountCents:  req.DiscountCents,
		Notes:          req.Notes,
		ProfileName:    req.ProfileName,
		ProfilePhone:   req.ProfilePhone,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	switch result.Outcome {
	case booking.OutcomeBooked:
		writeJSON(w, http.StatusCreated, map[string]any{
			"outcome":     result.Outcome,
			"appointment": appointmentToResponse(result.Appointment),
		})
	case booking.OutcomeConflict:
		writeJSON(w, http.StatusConflict, map[string]any{
			"outcome": result.Outcome,
			"code":    result.Code,
			"message": result.Message,
		})
	default:
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"outcome": result.Outcome,
			"code":    result.Code,
			"message": result.Message,
		})
	}
}

func appointmentIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		return uuid.Nil, &domain.ValidationError{Field: "appointment_id", Reason: "invalid uuid"}
	}
	return id, nil
}

// Cancel handles POST /bookings/{appointmentID}/cancel.
func (h *BookingsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r, "")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	apptID, err := appointmentIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.lifecycle.Cancel(r.Context(), userID, apptID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
}

type rescheduleRequest struct {
	NewSlotID uuid.UUID `json:"new_slot_id"`
}

// Reschedule handles POST /bookings/{appointmentID}/reschedule.
func (h *BookingsHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r, "")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	apptID, err := appointmentIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, &domain.ValidationError{Field: "body", Reason: "invalid json"})
		return
	}
	if err := h.lifecycle.Reschedule(r.Context(), userID, apptID, req.NewSlotID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "rescheduled", "new_slot_id": req.NewSlotID})
}

// SyncCompleted handles POST /bookings/sync-completed.
func (h *BookingsHandler) SyncCompleted(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r, "")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	n, err := h.lifecycle.SyncCompleted(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"completed": n})
}
