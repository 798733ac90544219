// Package reservation implements the Reservation Authority: the transactional
// system of record for slots and appointments. Every operation that touches a
// slot's exclusivity runs as a single Postgres transaction; the orchestration
// layer above holds no locks of its own.
package reservation

import (
	"context"

	"github.com/google/uuid"

	"github.com/calmora/clinic-booking/internal/domain"
)

// ReserveStatus tags the outcome of a reserve call.
type ReserveStatus string

const (
	StatusBooked   ReserveStatus = "booked"
	StatusConflict ReserveStatus = "conflict"
	StatusFailed   ReserveStatus = "failed"
)

// ReserveRequest carries everything the atomic reserve operation needs.
type ReserveRequest struct {
	UserID           uuid.UUID
	ServiceID        uuid.UUID
	TherapistID      uuid.UUID
	SlotID           uuid.UUID
	PaymentMethod    domain.PaymentMethod
	PaymentStatus    domain.PaymentStatus
	PaymentGateway   string
	GatewayOrderID   string
	GatewayPaymentID string
	AmountPaidCents  int64
	DiscountCents    int64
	CouponCode       string
	Notes            string
	IdempotencyKey   string
}

// ReserveResult is the structured outcome of a reserve call. Exactly one of
// the three statuses applies; Code and Message are set for Conflict/Failed.
type ReserveResult struct {
	Status          ReserveStatus
	AppointmentID   uuid.UUID
	AmountPaidCents int64
	Code            string
	Message         string
}

// Authority exposes the atomic operations the orchestration layer depends on.
type Authority interface {
	// Reserve books a slot in one transaction: lock the slot row, verify it
	// is unbooked and still in the future, insert the appointment, mark the
	// slot booked. Replaying with the same idempotency key returns the
	// original result without inserting twice.
	Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error)

	// Cancel marks a booked appointment cancelled and frees its slot in one
	// transaction. Rejected with CANCEL_WINDOW when inside the lock window.
	Cancel(ctx context.Context, appointmentID uuid.UUID) error

	// Reschedule atomically moves a booking to a different slot: free the
	// old slot, book the new one, update the appointment. Either all of it
	// happens or the original booking is left untouched.
	Reschedule(ctx context.Context, appointmentID, newSlotID uuid.UUID) error

	// CompletePastForUser converges booked appointments whose slot has ended
	// to completed. Display-only status, invoked opportunistically.
	CompletePastForUser(ctx context.Context, userID uuid.UUID) (int64, error)

	// GetAppointment fetches the full appointment projection.
	GetAppointment(ctx context.Context, appointmentID uuid.UUID) (*domain.Appointment, error)
}
