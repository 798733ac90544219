package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/calmora/clinic-booking/internal/clinicclock"
	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/internal/reservation"
	"github.com/calmora/clinic-booking/pkg/logging"
)

// slotTimeReader resolves a slot's clinic-local times for the soft window
// pre-check.
type slotTimeReader interface {
	SlotTimes(ctx context.Context, slotID uuid.UUID) (date, start string, err error)
}

// Lifecycle handles cancellation, reschedule and completion convergence.
// Both cancel and reschedule are single atomic Authority operations; the
// pre-checks here only exist to fail fast with a friendly error.
type Lifecycle struct {
	authority    reservation.Authority
	slots        slotTimeReader
	clock        *clinicclock.Clock
	cancelWindow time.Duration
	notifier     Notifier
	logger       *logging.Logger
}

// NewLifecycle constructs the lifecycle manager.
func NewLifecycle(authority reservation.Authority, slots slotTimeReader, clock *clinicclock.Clock, cancelWindow time.Duration, logger *logging.Logger) *Lifecycle {
	if authority == nil {
		panic("booking: authority required")
	}
	if slots == nil {
		panic("booking: slot reader required")
	}
	if clock == nil {
		panic("booking: clock required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Lifecycle{
		authority:    authority,
		slots:        slots,
		clock:        clock,
		cancelWindow: cancelWindow,
		logger:       logger,
	}
}

// WithNotifier attaches a booking notifier.
func (l *Lifecycle) WithNotifier(n Notifier) *Lifecycle {
	l.notifier = n
	return l
}

// Cancel cancels a booked appointment if it is at least the cancel window
// before the slot start. The Authority frees the slot in the same
// transaction that flips the status.
func (l *Lifecycle) Cancel(ctx context.Context, callerID, appointmentID uuid.UUID) error {
	ctx, span := bookingTracer.Start(ctx, "booking.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.appointment_id", appointmentID.String()))

	if appointmentID == uuid.Nil {
		return &domain.ValidationError{Field: "appointment_id", Reason: "required"}
	}

	appt, err := l.authority.GetAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	if appt.UserID != callerID {
		return &domain.AuthError{Reason: "appointment belongs to a different user"}
	}
	if appt.Status != domain.AppointmentBooked {
		return &domain.ConflictError{Code: domain.CodeNotBooked, Message: "appointment is not in booked status"}
	}

	// Soft pre-check; the Authority re-enforces the window under the lock.
	date, start, err := l.slots.SlotTimes(ctx, appt.SlotID)
	if err != nil {
		return err
	}
	until, err := l.clock.Until(date, start)
	if err != nil {
		return fmt.Errorf("booking: slot time: %w", err)
	}
	if until < l.cancelWindow {
		return &domain.ConflictError{
			Code:    domain.CodeCancelWindow,
			Message: fmt.Sprintf("cancellation requires at least %s before the slot start", l.cancelWindow),
		}
	}

	if err := l.authority.Cancel(ctx, appointmentID); err != nil {
		return err
	}
	appt.Status = domain.AppointmentCancelled
	if l.notifier != nil {
		l.notifier.BookingCancelled(ctx, appt)
	}
	l.logger.Info("appointment cancelled", "appointment_id", appointmentID, "user_id", callerID)
	return nil
}

// Reschedule atomically moves a booking to a new slot. Either the move fully
// succeeds or the original booking is untouched.
func (l *Lifecycle) Reschedule(ctx context.Context, callerID, appointmentID, newSlotID uuid.UUID) error {
	ctx, span := bookingTracer.Start(ctx, "booking.reschedule")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.appointment_id", appointmentID.String()),
		attribute.String("clinic.new_slot_id", newSlotID.String()),
	)

	if appointmentID == uuid.Nil {
		return &domain.ValidationError{Field: "appointment_id", Reason: "required"}
	}
	if newSlotID == uuid.Nil {
		return &domain.ValidationError{Field: "new_slot_id", Reason: "required"}
	}

	appt, err := l.authority.GetAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	if appt.UserID != callerID {
		return &domain.AuthError{Reason: "appointment belongs to a different user"}
	}

	date, start, err := l.slots.SlotTimes(ctx, newSlotID)
	if err != nil {
		return err
	}
	if l.clock.IsPast(date, start) {
		return &domain.ConflictError{Code: domain.CodeSlotPast, Message: "new slot start time has passed"}
	}

	if err := l.authority.Reschedule(ctx, appointmentID, newSlotID); err != nil {
		return err
	}
	l.logger.Info("appointment rescheduled", "appointment_id", appointmentID, "new_slot_id", newSlotID)
	return nil
}

// SyncCompleted converges the caller's past booked appointments to
// completed. Invoked opportunistically; completed is display-only.
func (l *Lifecycle) SyncCompleted(ctx context.Context, userID uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, &domain.ValidationError{Field: "user_id", Reason: "required"}
	}
	n, err := l.authority.CompletePastForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.logger.Info("past appointments completed", "user_id", userID, "count", n)
	}
	return n, nil
}
