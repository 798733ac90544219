package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/calmora/clinic-booking/internal/clinicclock"
	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/pkg/logging"
)

func testClock(t *testing.T, at string) *clinicclock.Clock {
	t.Helper()
	c, err := clinicclock.New("Asia/Kolkata")
	require.NoError(t, err)
	instant, err := time.ParseInLocation("2006-01-02 15:04", at, c.Location())
	require.NoError(t, err)
	return c.WithNow(func() time.Time { return instant })
}

func newMockStore(t *testing.T, at string) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store := NewStore(mock, testClock(t, at), 60*time.Minute, logging.Nop())
	return store, mock
}

func reserveReq(slotID uuid.UUID, key string) ReserveRequest {
	return ReserveRequest{
		UserID:          uuid.New(),
		ServiceID:       uuid.New(),
		TherapistID:     uuid.New(),
		SlotID:          slotID,
		PaymentMethod:   domain.MethodClinicPay,
		PaymentStatus:   domain.PaymentPending,
		AmountPaidCents: 50000,
		IdempotencyKey:  key,
	}
}

func TestReserveBooksFreeFutureSlot(t *testing.T) {
	store, mock := newMockStore(t, "2025-06-01 08:00")
	slotID := uuid.New()
	req := reserveReq(slotID, "attempt-1")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO booking_idempotency_keys").
		WithArgs("attempt-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT appointment_id, amount_paid_cents").
		WithArgs("attempt-1").
		WillReturnRows(pgxmock.NewRows([]string{"appointment_id", "amount_paid_cents"}).AddRow(nil, nil))
	mock.ExpectQuery("SELECT .+ FROM availability_slots").
		WithArgs(slotID).
		WillReturnRows(pgxmock.NewRows([]string{"slot_date", "start_time", "is_booked"}).
			AddRow("2025-06-01", "10:00", false))
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), req.UserID, req.ServiceID, req.TherapistID, slotID,
			"clinic_pay", "pending", "", "", "", int64(50000), int64(0), "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE availability_slots SET is_booked = TRUE").
		WithArgs(slotID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE booking_idempotency_keys").
		WithArgs("attempt-1", pgxmock.AnyArg(), int64(50000)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	res, err := store.Reserve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StatusBooked, res.Status)
	require.NotEqual(t, uuid.Nil, res.AppointmentID)
	require.Equal(t, int64(50000), res.AmountPaidCents)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveReplaysIdempotencyKey(t *testing.T) {
	store, mock := newMockStore(t, "2025-06-01 08:00")
	slotID := uuid.New()
	priorID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO booking_idempotency_keys").
		WithArgs("gw_order_77").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT appointment_id, amount_paid_cents").
		WithArgs("gw_order_77").
		WillReturnRows(pgxmock.NewRows([]string{"appointment_id", "amount_paid_cents"}).
			AddRow(priorID.String(), int64(90000)))
	mock.ExpectCommit()

	res, err := store.Reserve(context.Background(), reserveReq(slotID, "gw_order_77"))
	require.NoError(t, err)
	require.Equal(t, StatusBooked, res.Status)
	require.Equal(t, priorID, res.AppointmentID)
	require.Equal(t, int64(90000), res.AmountPaidCents)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveConflictsOnBookedSlot(t *testing.T) {
	store, mock := newMockStore(t, "2025-06-01 08:00")
	slotID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO booking_idempotency_keys").
		WithArgs("attempt-2").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT appointment_id, amount_paid_cents").
		WithArgs("attempt-2").
		WillReturnRows(pgxmock.NewRows([]string{"appointment_id", "amount_paid_cents"}).AddRow(nil, nil))
	mock.ExpectQuery("SELECT .+ FROM availability_slots").
		WithArgs(slotID).
		WillReturnRows(pgxmock.NewRows([]string{"slot_date", "start_time", "is_booked"}).
			AddRow("2025-06-01", "10:00", true))
	mock.ExpectRollback()

	res, err := store.Reserve(context.Background(), reserveReq(slotID, "attempt-2"))
	require.NoError(t, err)
	require.Equal(t, StatusConflict, res.Status)
	require.Equal(t, domain.CodeSlotTaken, res.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveRejectsPastSlotRegardlessOfFlag(t *testing.T) {
	store, mock := newMockStore(t, "2025-06-01 12:00")
	slotID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO booking_idempotency_keys").
		WithArgs("attempt-3").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT appointment_id, amount_paid_cents").
		WithArgs("attempt-3").
		WillReturnRows(pgxmock.NewRows([]string{"appointment_id", "amount_paid_cents"}).AddRow(nil, nil))
	mock.ExpectQuery("SELECT .+ FROM availability_slots").
		WithArgs(slotID).
		WillReturnRows(pgxmock.NewRows([]string{"slot_date", "start_time", "is_booked"}).
			AddRow("2025-06-01", "10:00", false))
	mock.ExpectRollback()

	res, err := store.Reserve(context.Background(), reserveReq(slotID, "attempt-3"))
	require.NoError(t, err)
	require.Equal(t, StatusConflict, res.Status)
	require.Equal(t, domain.CodeSlotPast, res.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveRequiresIdempotencyKey(t *testing.T) {
	store, _ := newMockStore(t, "2025-06-01 08:00")
	_, err := store.Reserve(context.Background(), reserveReq(uuid.New(), ""))
	require.Error(t, err)
}

func TestCancelInsideWindowRejected(t *testing.T) {
	// Slot starts 10:00, now is 09:15 — only 45 minutes out.
	store, mock := newMockStore(t, "2025-06-01 09:15")
	apptID := uuid.New()
	slotID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT a.status, a.slot_id").
		WithArgs(apptID).
		WillReturnRows(pgxmock.NewRows([]string{"status", "slot_id", "slot_date", "start_time"}).
			AddRow("booked", slotID, "2025-06-01", "10:00"))
	mock.ExpectRollback()

	err := store.Cancel(context.Background(), apptID)
	require.Error(t, err)
	require.True(t, domain.IsConflict(err, domain.CodeCancelWindow))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelOutsideWindowFreesSlot(t *testing.T) {
	// Slot starts 10:00, now is 08:30 — 90 minutes out.
	store, mock := newMockStore(t, "2025-06-01 08:30")
	apptID := uuid.New()
	slotID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT a.status, a.slot_id").
		WithArgs(apptID).
		WillReturnRows(pgxmock.NewRows([]string{"status", "slot_id", "slot_date", "start_time"}).
			AddRow("booked", slotID, "2025-06-01", "10:00"))
	mock.ExpectExec("UPDATE appointments SET status = 'cancelled'").
		WithArgs(apptID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE availability_slots SET is_booked = FALSE").
		WithArgs(slotID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.Cancel(context.Background(), apptID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelNonBookedAppointment(t *testing.T) {
	store, mock := newMockStore(t, "2025-06-01 08:00")
	apptID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT a.status, a.slot_id").
		WithArgs(apptID).
		WillReturnRows(pgxmock.NewRows([]string{"status", "slot_id", "slot_date", "start_time"}).
			AddRow("cancelled", uuid.New(), "2025-06-01", "10:00"))
	mock.ExpectRollback()

	err := store.Cancel(context.Background(), apptID)
	require.True(t, domain.IsConflict(err, domain.CodeNotBooked))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleMovesBookingAtomically(t *testing.T) {
	store, mock := newMockStore(t, "2025-06-01 08:00")
	apptID := uuid.New()
	oldSlot := uuid.New()
	newSlot := uuid.New()
	therapist := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, slot_id FROM appointments").
		WithArgs(apptID).
		WillReturnRows(pgxmock.NewRows([]string{"status", "slot_id"}).AddRow("booked", oldSlot))
	mock.ExpectQuery("SELECT id, .+ FROM availability_slots").
		WithArgs([]uuid.UUID{oldSlot, newSlot}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "slot_date", "start_time", "therapist_id", "is_booked"}).
			AddRow(oldSlot, "2025-06-01", "10:00", therapist, true).
			AddRow(newSlot, "2025-06-02", "11:00", therapist, false))
	mock.ExpectExec("UPDATE availability_slots SET is_booked = FALSE").
		WithArgs(oldSlot).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE availability_slots SET is_booked = TRUE").
		WithArgs(newSlot).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE appointments SET slot_id").
		WithArgs(apptID, newSlot, therapist).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.Reschedule(context.Background(), apptID, newSlot))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleLeavesBookingWhenNewSlotTaken(t *testing.T) {
	store, mock := newMockStore(t, "2025-06-01 08:00")
	apptID := uuid.New()
	oldSlot := uuid.New()
	newSlot := uuid.New()
	therapist := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, slot_id FROM appointments").
		WithArgs(apptID).
		WillReturnRows(pgxmock.NewRows([]string{"status", "slot_id"}).AddRow("booked", oldSlot))
	mock.ExpectQuery("SELECT id, .+ FROM availability_slots").
		WithArgs([]uuid.UUID{oldSlot, newSlot}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "slot_date", "start_time", "therapist_id", "is_booked"}).
			AddRow(oldSlot, "2025-06-01", "10:00", therapist, true).
			AddRow(newSlot, "2025-06-02", "11:00", therapist, true))
	mock.ExpectRollback()

	err := store.Reschedule(context.Background(), apptID, newSlot)
	require.True(t, domain.IsConflict(err, domain.CodeSlotTaken))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompletePastForUser(t *testing.T) {
	store, mock := newMockStore(t, "2025-06-01 18:00")
	userID := uuid.New()

	mock.ExpectExec("UPDATE appointments a").
		WithArgs(userID, "2025-06-01", "18:00").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := store.CompletePastForUser(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
