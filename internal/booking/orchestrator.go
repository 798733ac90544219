// Package booking orchestrates the reservation lifecycle: it prepares a
// booking intent, hands the slot to the Reservation Authority's atomic
// reserve operation, and translates the structured result into a domain
// outcome. It never mutates local state before the Authority confirms.
package booking

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/calmora/clinic-booking/internal/clinicclock"
	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/internal/payments"
	"github.com/calmora/clinic-booking/internal/reservation"
	"github.com/calmora/clinic-booking/pkg/logging"
)

var bookingTracer = otel.Tracer("clinic.internal.booking")

// Outcome tags a BookingResult.
type Outcome string

const (
	OutcomeBooked   Outcome = "booked"
	OutcomeConflict Outcome = "conflict"
	OutcomeFailed   Outcome = "failed"
)

// BookingResult is the tagged outcome of a reserve attempt. Appointment is
// set only for OutcomeBooked; Code/Message only otherwise.
type BookingResult struct {
	Outcome     Outcome
	Appointment *domain.Appointment
	Code        string
	Message     string
}

// ReserveInput is one booking intent: a selected slot plus a payment claim
// and the idempotency key for this attempt.
type ReserveInput struct {
	UserID      uuid.UUID
	ServiceID   uuid.UUID
	TherapistID uuid.UUID
	SlotID      uuid.UUID

	// Clinic-local slot times from the selected projection. Used for the
	// local fast-fail only; the Authority re-checks inside its transaction.
	SlotDate  string
	SlotStart string

	// Proof is a claim, not evidence. For gateway methods only Method and
	// GatewayOrderID are read; status, amount and payment id are re-derived
	// from the stored intent before anything is recorded.
	Proof          domain.PaymentProof
	IdempotencyKey string
	DiscountCents  int64
	CouponCode     string
	Notes          string

	ProfileName  string
	ProfilePhone string
}

type profileStore interface {
	EnsureExists(ctx context.Context, userID uuid.UUID, name, phone string) error
}

// intentSource resolves persisted payment intents by their gateway
// reference. The payments repository implements it.
type intentSource interface {
	GetByGatewayRef(ctx context.Context, gatewayRef string) (*payments.Intent, error)
}

// Notifier is told about settled bookings. Failures are logged, never
// surfaced: notification is best-effort.
type Notifier interface {
	BookingConfirmed(ctx context.Context, appt *domain.Appointment)
	BookingCancelled(ctx context.Context, appt *domain.Appointment)
}

// Metrics receives reserve outcome counts. Optional.
type Metrics interface {
	ObserveReserve(outcome, code string)
}

// Orchestrator drives a booking attempt end to end.
type Orchestrator struct {
	authority reservation.Authority
	profiles  profileStore
	clock     *clinicclock.Clock
	guard     *AttemptGuard
	intents   intentSource
	notifier  Notifier
	metrics   Metrics
	logger    *logging.Logger
}

// NewOrchestrator constructs the orchestrator. Guard, notifier and metrics
// are optional.
func NewOrchestrator(authority reservation.Authority, profiles profileStore, clock *clinicclock.Clock, logger *logging.Logger) *Orchestrator {
	if authority == nil {
		panic("booking: authority required")
	}
	if profiles == nil {
		panic("booking: profile store required")
	}
	if clock == nil {
		panic("booking: clock required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{authority: authority, profiles: profiles, clock: clock, logger: logger}
}

// WithGuard attaches the double-submit guard for per-attempt keys.
func (o *Orchestrator) WithGuard(guard *AttemptGuard) *Orchestrator {
	o.guard = guard
	return o
}

// WithIntents attaches the payment intent store used to verify gateway
// proofs. Gateway-paid bookings are refused while it is unset.
func (o *Orchestrator) WithIntents(intents intentSource) *Orchestrator {
	o.intents = intents
	return o
}

// WithNotifier attaches a booking notifier.
func (o *Orchestrator) WithNotifier(n Notifier) *Orchestrator {
	o.notifier = n
	return o
}

// WithMetrics attaches outcome metrics.
func (o *Orchestrator) WithMetrics(m Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// Reserve runs one booking attempt. Validation failures surface before any
// Authority call; conflicts come back as OutcomeConflict so the UI can
// re-prompt slot selection instead of retrying blindly.
func (o *Orchestrator) Reserve(ctx context.Context, in ReserveInput) (BookingResult, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.slot_id", in.SlotID.String()),
		attribute.String("clinic.payment_method", string(in.Proof.Method)),
	)

	if err := validateReserveInput(in); err != nil {
		return BookingResult{}, err
	}

	// The proof recorded with the appointment always comes from here, never
	// from the caller's claim.
	proof, err := o.verifyProof(ctx, in)
	if err != nil {
		return BookingResult{}, err
	}

	// Fast-fail on an elapsed slot. Soft UX guard; the Authority enforces
	// the same check under the slot lock.
	if o.clock.IsPast(in.SlotDate, in.SlotStart) {
		o.observe(OutcomeConflict, domain.CodeSlotPast)
		return BookingResult{Outcome: OutcomeConflict, Code: domain.CodeSlotPast, Message: "slot start time has passed"}, nil
	}

	if o.guard != nil && in.Proof.Method == domain.MethodClinicPay {
		if !o.guard.Acquire(ctx, in.UserID, in.SlotID) {
			return BookingResult{
				Outcome: OutcomeConflict,
				Code:    domain.CodeAttemptInFlight,
				Message: "a booking attempt for this slot is already in progress",
			}, nil
		}
		defer o.guard.Release(ctx, in.UserID, in.SlotID)
	}

	if err := o.profiles.EnsureExists(ctx, in.UserID, in.ProfileName, in.ProfilePhone); err != nil {
		return BookingResult{}, fmt.Errorf("booking: ensure profile: %w", err)
	}

	res, err := o.authority.Reserve(ctx, reservation.ReserveRequest{
		UserID:           in.UserID,
		ServiceID:        in.ServiceID,
		TherapistID:      in.TherapistID,
		SlotID:           in.SlotID,
		PaymentMethod:    proof.Method,
		PaymentStatus:    proof.Status,
		PaymentGateway:   proof.Gateway,
		GatewayOrderID:   proof.GatewayOrderID,
		GatewayPaymentID: proof.GatewayPaymentID,
		AmountPaidCents:  proof.AmountCents,
		DiscountCents:    in.DiscountCents,
		CouponCode:       in.CouponCode,
		Notes:            in.Notes,
		IdempotencyKey:   in.IdempotencyKey,
	})
	if err != nil {
		o.observe(OutcomeFailed, "error")
		return BookingResult{}, &domain.NetworkError{Op: "reserve", Err: err}
	}

	switch res.Status {
	case reservation.StatusBooked:
		appt, err := o.authority.GetAppointment(ctx, res.AppointmentID)
		if err != nil {
			return BookingResult{}, fmt.Errorf("booking: load appointment after reserve: %w", err)
		}
		o.observe(OutcomeBooked, "")
		if o.notifier != nil {
			o.notifier.BookingConfirmed(ctx, appt)
		}
		o.logger.Info("booking confirmed",
			"appointment_id", appt.ID,
			"slot_id", in.SlotID,
			"payment_method", in.Proof.Method,
		)
		return BookingResult{Outcome: OutcomeBooked, Appointment: appt}, nil

	case reservation.StatusConflict:
		o.observe(OutcomeConflict, res.Code)
		span.SetAttributes(attribute.String("clinic.conflict_code", res.Code))
		return BookingResult{Outcome: OutcomeConflict, Code: res.Code, Message: res.Message}, nil

	default:
		o.observe(OutcomeFailed, res.Code)
		return BookingResult{Outcome: OutcomeFailed, Code: res.Code, Message: res.Message}, nil
	}
}

func (o *Orchestrator) observe(outcome Outcome, code string) {
	if o.metrics != nil {
		o.metrics.ObserveReserve(string(outcome), code)
	}
}

func validateReserveInput(in ReserveInput) error {
	switch {
	case in.UserID == uuid.Nil:
		return &domain.ValidationError{Field: "user_id", Reason: "required"}
	case in.ServiceID == uuid.Nil:
		return &domain.ValidationError{Field: "service_id", Reason: "required"}
	case in.TherapistID == uuid.Nil:
		return &domain.ValidationError{Field: "therapist_id", Reason: "required"}
	case in.SlotID == uuid.Nil:
		return &domain.ValidationError{Field: "slot_id", Reason: "required"}
	case in.SlotDate == "" || in.SlotStart == "":
		return &domain.ValidationError{Field: "slot_time", Reason: "required"}
	case in.IdempotencyKey == "":
		return &domain.ValidationError{Field: "idempotency_key", Reason: "required"}
	}
	switch in.Proof.Method {
	case domain.MethodClinicPay:
		// Nothing to verify; payment stays pending after booking.
	case domain.MethodWebCheckout, domain.MethodNativeSheet:
		if in.Proof.GatewayOrderID == "" {
			return &domain.ValidationError{Field: "payment_proof", Reason: "missing gateway order id"}
		}
	default:
		return &domain.ValidationError{Field: "payment_method", Reason: "unknown method"}
	}
	return nil
}

// verifyProof resolves the caller's payment claim against the intent store.
// Clinic-pay carries no evidence and stays pending. For gateway methods the
// stored intent is the only source of truth: it must exist, belong to the
// booking user and service, and have been marked paid by the verification
// path or the provider webhook.
func (o *Orchestrator) verifyProof(ctx context.Context, in ReserveInput) (domain.PaymentProof, error) {
	if in.Proof.Method == domain.MethodClinicPay {
		return domain.PaymentProof{Method: domain.MethodClinicPay, Status: domain.PaymentPending}, nil
	}

	if o.intents == nil {
		return domain.PaymentProof{}, &domain.AuthError{Reason: "gateway payments are not accepted"}
	}
	intent, err := o.intents.GetByGatewayRef(ctx, in.Proof.GatewayOrderID)
	if err != nil {
		return domain.PaymentProof{}, err
	}
	if intent.UserID != in.UserID {
		return domain.PaymentProof{}, &domain.AuthError{Reason: "payment intent belongs to another user"}
	}
	if intent.Method != in.Proof.Method {
		return domain.PaymentProof{}, &domain.ValidationError{Field: "payment_proof", Reason: "method does not match the payment intent"}
	}
	if intent.ServiceID != in.ServiceID {
		return domain.PaymentProof{}, &domain.ValidationError{Field: "payment_proof", Reason: "payment intent was created for a different service"}
	}
	if intent.Status != domain.PaymentPaid {
		return domain.PaymentProof{}, &domain.ValidationError{Field: "payment_proof", Reason: "payment not confirmed by the gateway"}
	}

	return domain.PaymentProof{
		Method:           intent.Method,
		Status:           domain.PaymentPaid,
		Gateway:          intent.Gateway,
		GatewayOrderID:   intent.GatewayRef,
		GatewayPaymentID: intent.GatewayPaymentID,
		AmountCents:      intent.AmountCents,
	}, nil
}
