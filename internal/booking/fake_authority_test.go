package booking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calmora/clinic-booking/internal/clinicclock"
	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/internal/payments"
	"github.com/calmora/clinic-booking/internal/reservation"
)

// fakeAuthority is an in-memory Reservation Authority with the same
// exclusivity and replay semantics as the Postgres store. Safe for
// concurrent use so tests can race reserve calls against it.
type fakeAuthority struct {
	mu           sync.Mutex
	clock        *clinicclock.Clock
	cancelWindow time.Duration
	slots        map[uuid.UUID]*domain.AvailabilitySlot
	appointments map[uuid.UUID]*domain.Appointment
	byKey        map[uuid.UUID]uuid.UUID // slotID -> active appointment
	idem         map[string]reservation.ReserveResult
	reserveCalls int
}

func newFakeAuthority(clock *clinicclock.Clock) *fakeAuthority {
	return &fakeAuthority{
		clock:        clock,
		cancelWindow: 60 * time.Minute,
		slots:        make(map[uuid.UUID]*domain.AvailabilitySlot),
		appointments: make(map[uuid.UUID]*domain.Appointment),
		byKey:        make(map[uuid.UUID]uuid.UUID),
		idem:         make(map[string]reservation.ReserveResult),
	}
}

func (f *fakeAuthority) addSlot(slot domain.AvailabilitySlot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := slot
	f.slots[slot.ID] = &s
}

func (f *fakeAuthority) slot(id uuid.UUID) domain.AvailabilitySlot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.slots[id]
}

func (f *fakeAuthority) Reserve(ctx context.Context, req reservation.ReserveRequest) (reservation.ReserveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserveCalls++

	if prior, ok := f.idem[req.IdempotencyKey]; ok {
		return prior, nil
	}

	slot, ok := f.slots[req.SlotID]
	if !ok {
		return reservation.ReserveResult{Status: reservation.StatusFailed, Code: "SLOT_NOT_FOUND"}, nil
	}
	if slot.IsBooked {
		return reservation.ReserveResult{Status: reservation.StatusConflict, Code: domain.CodeSlotTaken, Message: "slot already booked"}, nil
	}
	if f.clock.IsPast(slot.Date, slot.StartTime) {
		return reservation.ReserveResult{Status: reservation.StatusConflict, Code: domain.CodeSlotPast, Message: "slot start time has passed"}, nil
	}

	appt := &domain.Appointment{
		ID:               uuid.New(),
		UserID:           req.UserID,
		ServiceID:        req.ServiceID,
		TherapistID:      req.TherapistID,
		SlotID:           req.SlotID,
		Status:           domain.AppointmentBooked,
		PaymentMethod:    req.PaymentMethod,
		PaymentStatus:    req.PaymentStatus,
		PaymentGateway:   req.PaymentGateway,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		AmountPaidCents:  req.AmountPaidCents,
		CreatedAt:        time.Now(),
	}
	slot.IsBooked = true
	f.appointments[appt.ID] = appt
	f.byKey[req.SlotID] = appt.ID

	res := reservation.ReserveResult{
		Status:          reservation.StatusBooked,
		AppointmentID:   appt.ID,
		AmountPaidCents: req.AmountPaidCents,
	}
	f.idem[req.IdempotencyKey] = res
	return res, nil
}

func (f *fakeAuthority) Cancel(ctx context.Context, appointmentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, ok := f.appointments[appointmentID]
	if !ok {
		return &domain.ValidationError{Field: "appointment_id", Reason: "not found"}
	}
	if appt.Status != domain.AppointmentBooked {
		return &domain.ConflictError{Code: domain.CodeNotBooked}
	}
	slot := f.slots[appt.SlotID]
	until, err := f.clock.Until(slot.Date, slot.StartTime)
	if err != nil {
		return err
	}
	if until < f.cancelWindow {
		return &domain.ConflictError{Code: domain.CodeCancelWindow}
	}
	appt.Status = domain.AppointmentCancelled
	slot.IsBooked = false
	delete(f.byKey, appt.SlotID)
	return nil
}

func (f *fakeAuthority) Reschedule(ctx context.Context, appointmentID, newSlotID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, ok := f.appointments[appointmentID]
	if !ok {
		return &domain.ValidationError{Field: "appointment_id", Reason: "not found"}
	}
	if appt.Status != domain.AppointmentBooked {
		return &domain.ConflictError{Code: domain.CodeNotBooked}
	}
	next, ok := f.slots[newSlotID]
	if !ok {
		return &domain.ValidationError{Field: "new_slot_id", Reason: "not found"}
	}
	if next.IsBooked {
		return &domain.ConflictError{Code: domain.CodeSlotTaken}
	}
	if f.clock.IsPast(next.Date, next.StartTime) {
		return &domain.ConflictError{Code: domain.CodeSlotPast}
	}
	old := f.slots[appt.SlotID]
	old.IsBooked = false
	next.IsBooked = true
	delete(f.byKey, appt.SlotID)
	appt.SlotID = newSlotID
	appt.TherapistID = next.TherapistID
	f.byKey[newSlotID] = appt.ID
	return nil
}

func (f *fakeAuthority) CompletePastForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, appt := range f.appointments {
		if appt.UserID != userID || appt.Status != domain.AppointmentBooked {
			continue
		}
		slot := f.slots[appt.SlotID]
		if f.clock.IsPast(slot.Date, slot.EndTime) {
			appt.Status = domain.AppointmentCompleted
			n++
		}
	}
	return n, nil
}

func (f *fakeAuthority) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (*domain.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, ok := f.appointments[appointmentID]
	if !ok {
		return nil, &domain.ValidationError{Field: "appointment_id", Reason: "not found"}
	}
	copied := *appt
	return &copied, nil
}

func (f *fakeAuthority) SlotTimes(ctx context.Context, slotID uuid.UUID) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	slot, ok := f.slots[slotID]
	if !ok {
		return "", "", &domain.ValidationError{Field: "slot_id", Reason: "not found"}
	}
	return slot.Date, slot.StartTime, nil
}

// fakeProfiles records EnsureExists calls.
type fakeProfiles struct {
	mu    sync.Mutex
	calls int
}

func (p *fakeProfiles) EnsureExists(ctx context.Context, userID uuid.UUID, name, phone string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return nil
}

// fakeIntents serves stored payment intents by gateway reference.
type fakeIntents struct {
	byRef map[string]payments.Intent
}

func (f *fakeIntents) add(in payments.Intent) *fakeIntents {
	if f.byRef == nil {
		f.byRef = make(map[string]payments.Intent)
	}
	f.byRef[in.GatewayRef] = in
	return f
}

func (f *fakeIntents) GetByGatewayRef(ctx context.Context, ref string) (*payments.Intent, error) {
	in, ok := f.byRef[ref]
	if !ok {
		return nil, &domain.ValidationError{Field: "gateway_ref", Reason: "intent not found"}
	}
	return &in, nil
}
