package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/calmora/clinic-booking/internal/clinicclock"
	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/pkg/logging"
)

var reservationTracer = otel.Tracer("clinic.internal.reservation")

// DB is the subset of pgxpool.Pool the store needs. pgxmock satisfies it in
// tests.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres-backed Reservation Authority.
type Store struct {
	db           DB
	clock        *clinicclock.Clock
	cancelWindow time.Duration
	logger       *logging.Logger
}

// NewStore creates the Authority over a pgx pool.
func NewStore(db DB, clock *clinicclock.Clock, cancelWindow time.Duration, logger *logging.Logger) *Store {
	if db == nil {
		panic("reservation: db required")
	}
	if clock == nil {
		panic("reservation: clock required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{db: db, clock: clock, cancelWindow: cancelWindow, logger: logger}
}

// Reserve implements the atomic booking operation. The slot row is locked
// for the duration of the transaction so concurrent attempts for the same
// slot resolve to exactly one success.
func (s *Store) Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error) {
	ctx, span := reservationTracer.Start(ctx, "reservation.reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.slot_id", req.SlotID.String()),
		attribute.String("clinic.user_id", req.UserID.String()),
	)

	if req.IdempotencyKey == "" {
		return ReserveResult{}, fmt.Errorf("reservation: idempotency key required")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return ReserveResult{}, fmt.Errorf("reservation: begin reserve: %w", err)
	}
	defer tx.Rollback(ctx)

	// Claim the idempotency key, then lock its row. A replayed request finds
	// the appointment id recorded by the first attempt and returns it as-is.
	if _, err := tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (idempotency_key)
		VALUES ($1)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, req.IdempotencyKey); err != nil {
		return ReserveResult{}, fmt.Errorf("reservation: claim idempotency key: %w", err)
	}

	var priorAppt pgtype.UUID
	var priorAmount pgtype.Int8
	if err := tx.QueryRow(ctx, `
		SELECT appointment_id, amount_paid_cents
		FROM booking_idempotency_keys
		WHERE idempotency_key = $1
		FOR UPDATE
	`, req.IdempotencyKey).Scan(&priorAppt, &priorAmount); err != nil {
		return ReserveResult{}, fmt.Errorf("reservation: lock idempotency key: %w", err)
	}
	if priorAppt.Valid {
		if err := tx.Commit(ctx); err != nil {
			return ReserveResult{}, fmt.Errorf("reservation: commit replay: %w", err)
		}
		s.logger.Info("reserve replayed from idempotency key",
			"idempotency_key", req.IdempotencyKey,
			"appointment_id", uuid.UUID(priorAppt.Bytes),
		)
		return ReserveResult{
			Status:          StatusBooked,
			AppointmentID:   uuid.UUID(priorAppt.Bytes),
			AmountPaidCents: priorAmount.Int64,
		}, nil
	}

	// Lock the slot row. This is the point of exclusivity: everything after
	// it is serialized per slot.
	var slotDate, slotStart string
	var isBooked bool
	err = tx.QueryRow(ctx, `
		SELECT to_char(slot_date, 'YYYY-MM-DD'), to_char(start_time, 'HH24:MI'), is_booked
		FROM availability_slots
		WHERE id = $1
		FOR UPDATE
	`, req.SlotID).Scan(&slotDate, &slotStart, &isBooked)
	if errors.Is(err, pgx.ErrNoRows) {
		return ReserveResult{Status: StatusFailed, Code: "SLOT_NOT_FOUND", Message: "slot does not exist"}, nil
	}
	if err != nil {
		return ReserveResult{}, fmt.Errorf("reservation: lock slot: %w", err)
	}

	if isBooked {
		span.SetAttributes(attribute.String("clinic.reserve_outcome", domain.CodeSlotTaken))
		return ReserveResult{Status: StatusConflict, Code: domain.CodeSlotTaken, Message: "slot already booked"}, nil
	}
	if s.clock.IsPast(slotDate, slotStart) {
		span.SetAttributes(attribute.String("clinic.reserve_outcome", domain.CodeSlotPast))
		return ReserveResult{Status: StatusConflict, Code: domain.CodeSlotPast, Message: "slot start time has passed"}, nil
	}

	apptID := uuid.New()
	if _, err := tx.Exec(ctx, `
		INSERT INTO appointments
			(id, user_id, service_id, therapist_id, slot_id, status,
			 payment_method, payment_status, payment_gateway,
			 gateway_order_id, gateway_payment_id,
			 amount_paid_cents, discount_cents, coupon_code, notes)
		VALUES ($1, $2, $3, $4, $5, 'booked', $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, apptID, req.UserID, req.ServiceID, req.TherapistID, req.SlotID,
		string(req.PaymentMethod), string(req.PaymentStatus), req.PaymentGateway,
		req.GatewayOrderID, req.GatewayPaymentID,
		req.AmountPaidCents, req.DiscountCents, req.CouponCode, req.Notes,
	); err != nil {
		// The partial unique index on active bookings is the last line of
		// defense if a write path ever bypasses the slot lock.
		if isUniqueViolation(err) {
			return ReserveResult{Status: StatusConflict, Code: domain.CodeSlotTaken, Message: "slot already booked"}, nil
		}
		return ReserveResult{}, fmt.Errorf("reservation: insert appointment: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE availability_slots SET is_booked = TRUE WHERE id = $1
	`, req.SlotID); err != nil {
		return ReserveResult{}, fmt.Errorf("reservation: mark slot booked: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $2, amount_paid_cents = $3, finalized_at = now()
		WHERE idempotency_key = $1
	`, req.IdempotencyKey, apptID, req.AmountPaidCents); err != nil {
		return ReserveResult{}, fmt.Errorf("reservation: finalize idempotency key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ReserveResult{}, fmt.Errorf("reservation: commit reserve: %w", err)
	}

	s.logger.Info("slot reserved",
		"appointment_id", apptID,
		"slot_id", req.SlotID,
		"user_id", req.UserID,
		"payment_method", req.PaymentMethod,
	)
	return ReserveResult{Status: StatusBooked, AppointmentID: apptID, AmountPaidCents: req.AmountPaidCents}, nil
}

// Cancel marks a booked appointment cancelled and frees its slot in one
// transaction. The 60-minute window is enforced here, not just client-side.
func (s *Store) Cancel(ctx context.Context, appointmentID uuid.UUID) error {
	ctx, span := reservationTracer.Start(ctx, "reservation.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.appointment_id", appointmentID.String()))

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reservation: begin cancel: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	var slotID uuid.UUID
	var slotDate, slotStart string
	err = tx.QueryRow(ctx, `
		SELECT a.status, a.slot_id, to_char(s.slot_date, 'YYYY-MM-DD'), to_char(s.start_time, 'HH24:MI')
		FROM appointments a
		JOIN availability_slots s ON s.id = a.slot_id
		WHERE a.id = $1
		FOR UPDATE OF a, s
	`, appointmentID).Scan(&status, &slotID, &slotDate, &slotStart)
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.ValidationError{Field: "appointment_id", Reason: "not found"}
	}
	if err != nil {
		return fmt.Errorf("reservation: lock appointment: %w", err)
	}

	if status != string(domain.AppointmentBooked) {
		return &domain.ConflictError{Code: domain.CodeNotBooked, Message: "appointment is not in booked status"}
	}

	until, err := s.clock.Until(slotDate, slotStart)
	if err != nil {
		return fmt.Errorf("reservation: slot time: %w", err)
	}
	if until < s.cancelWindow {
		return &domain.ConflictError{
			Code:    domain.CodeCancelWindow,
			Message: fmt.Sprintf("cancellation requires at least %s before the slot start", s.cancelWindow),
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE appointments SET status = 'cancelled' WHERE id = $1
	`, appointmentID); err != nil {
		return fmt.Errorf("reservation: mark cancelled: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE availability_slots SET is_booked = FALSE WHERE id = $1
	`, slotID); err != nil {
		return fmt.Errorf("reservation: free slot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reservation: commit cancel: %w", err)
	}
	s.logger.Info("appointment cancelled", "appointment_id", appointmentID, "slot_id", slotID)
	return nil
}

// Reschedule moves a booking to a different slot in one transaction. If any
// step fails the original booking is left untouched.
func (s *Store) Reschedule(ctx context.Context, appointmentID, newSlotID uuid.UUID) error {
	ctx, span := reservationTracer.Start(ctx, "reservation.reschedule")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.appointment_id", appointmentID.String()),
		attribute.String("clinic.new_slot_id", newSlotID.String()),
	)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reservation: begin reschedule: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	var oldSlotID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT status, slot_id FROM appointments WHERE id = $1 FOR UPDATE
	`, appointmentID).Scan(&status, &oldSlotID)
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.ValidationError{Field: "appointment_id", Reason: "not found"}
	}
	if err != nil {
		return fmt.Errorf("reservation: lock appointment: %w", err)
	}
	if status != string(domain.AppointmentBooked) {
		return &domain.ConflictError{Code: domain.CodeNotBooked, Message: "appointment is not in booked status"}
	}
	if oldSlotID == newSlotID {
		return &domain.ValidationError{Field: "new_slot_id", Reason: "same as current slot"}
	}

	// Lock both slots in a stable order to avoid deadlocking against a
	// concurrent reschedule in the opposite direction.
	rows, err := tx.Query(ctx, `
		SELECT id, to_char(slot_date, 'YYYY-MM-DD'), to_char(start_time, 'HH24:MI'), therapist_id, is_booked
		FROM availability_slots
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, []uuid.UUID{oldSlotID, newSlotID})
	if err != nil {
		return fmt.Errorf("reservation: lock slots: %w", err)
	}
	type slotRow struct {
		date, start string
		therapistID uuid.UUID
		isBooked    bool
	}
	slots := make(map[uuid.UUID]slotRow, 2)
	for rows.Next() {
		var id uuid.UUID
		var sr slotRow
		if err := rows.Scan(&id, &sr.date, &sr.start, &sr.therapistID, &sr.isBooked); err != nil {
			rows.Close()
			return fmt.Errorf("reservation: scan slot: %w", err)
		}
		slots[id] = sr
	}
	rows.Close()
	if rows.Err() != nil {
		return fmt.Errorf("reservation: read slots: %w", rows.Err())
	}

	next, ok := slots[newSlotID]
	if !ok {
		return &domain.ValidationError{Field: "new_slot_id", Reason: "not found"}
	}
	if next.isBooked {
		return &domain.ConflictError{Code: domain.CodeSlotTaken, Message: "new slot already booked"}
	}
	if s.clock.IsPast(next.date, next.start) {
		return &domain.ConflictError{Code: domain.CodeSlotPast, Message: "new slot start time has passed"}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE availability_slots SET is_booked = FALSE WHERE id = $1
	`, oldSlotID); err != nil {
		return fmt.Errorf("reservation: free old slot: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE availability_slots SET is_booked = TRUE WHERE id = $1
	`, newSlotID); err != nil {
		return fmt.Errorf("reservation: book new slot: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE appointments SET slot_id = $2, therapist_id = $3 WHERE id = $1
	`, appointmentID, newSlotID, next.therapistID); err != nil {
		return fmt.Errorf("reservation: move appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reservation: commit reschedule: %w", err)
	}
	s.logger.Info("appointment rescheduled",
		"appointment_id", appointmentID,
		"old_slot_id", oldSlotID,
		"new_slot_id", newSlotID,
	)
	return nil
}

// CompletePastForUser sets booked appointments whose slot has ended to
// completed. Returns the number of rows converged.
func (s *Store) CompletePastForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	ctx, span := reservationTracer.Start(ctx, "reservation.complete_past")
	defer span.End()

	nowDate, nowClock := s.clock.NowParts()
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments a
		SET status = 'completed'
		FROM availability_slots s
		WHERE s.id = a.slot_id
		  AND a.user_id = $1
		  AND a.status = 'booked'
		  AND (s.slot_date < $2::date OR (s.slot_date = $2::date AND s.end_time <= $3::time))
	`, userID, nowDate, nowClock)
	if err != nil {
		return 0, fmt.Errorf("reservation: complete past appointments: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetAppointment fetches the full appointment projection.
func (s *Store) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (*domain.Appointment, error) {
	var a domain.Appointment
	var status, method, payStatus string
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, service_id, therapist_id, slot_id, status,
		       payment_method, payment_status, payment_gateway,
		       gateway_order_id, gateway_payment_id,
		       amount_paid_cents, discount_cents, coupon_code, notes, created_at
		FROM appointments
		WHERE id = $1
	`, appointmentID).Scan(
		&a.ID, &a.UserID, &a.ServiceID, &a.TherapistID, &a.SlotID, &status,
		&method, &payStatus, &a.PaymentGateway,
		&a.GatewayOrderID, &a.GatewayPaymentID,
		&a.AmountPaidCents, &a.DiscountCents, &a.CouponCode, &a.Notes, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ValidationError{Field: "appointment_id", Reason: "not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("reservation: load appointment: %w", err)
	}
	a.Status = domain.AppointmentStatus(status)
	a.PaymentMethod = domain.PaymentMethod(method)
	a.PaymentStatus = domain.PaymentStatus(payStatus)
	return &a, nil
}

// SlotTimes returns a slot's clinic-local date and start time. Used by the
// lifecycle manager for its soft window pre-check.
func (s *Store) SlotTimes(ctx context.Context, slotID uuid.UUID) (date, start string, err error) {
	err = s.db.QueryRow(ctx, `
		SELECT to_char(slot_date, 'YYYY-MM-DD'), to_char(start_time, 'HH24:MI')
		FROM availability_slots
		WHERE id = $1
	`, slotID).Scan(&date, &start)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", &domain.ValidationError{Field: "slot_id", Reason: "not found"}
	}
	if err != nil {
		return "", "", fmt.Errorf("reservation: slot times: %w", err)
	}
	return date, start, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "23P01")
}
