package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/calmora/clinic-booking/internal/clinicclock"
	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/internal/http/middleware"
	"github.com/calmora/clinic-booking/internal/payments"
	"github.com/calmora/clinic-booking/internal/reservation"
	"github.com/calmora/clinic-booking/internal/shop"
)

// stubAuthority is a canned reservation.Authority for handler tests. The
// real transactional behavior is covered in the reservation and booking
// packages; here only the HTTP mapping matters.
type stubAuthority struct {
	mu sync.Mutex

	reserveResult reservation.ReserveResult
	reserveErr    error
	reserveCalls  int

	appointments map[uuid.UUID]*domain.Appointment
	cancelErr    error
	cancelled    []uuid.UUID
	rescheduled  []uuid.UUID
	completed    int64
}

func newStubAuthority() *stubAuthority {
	return &stubAuthority{appointments: map[uuid.UUID]*domain.Appointment{}}
}

func (a *stubAuthority) Reserve(_ context.Context, _ reservation.ReserveRequest) (reservation.ReserveResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reserveCalls++
	return a.reserveResult, a.reserveErr
}

func (a *stubAuthority) Cancel(_ context.Context, appointmentID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancelErr != nil {
		return a.cancelErr
	}
	a.cancelled = append(a.cancelled, appointmentID)
	return nil
}

func (a *stubAuthority) Reschedule(_ context.Context, appointmentID, _ uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rescheduled = append(a.rescheduled, appointmentID)
	return nil
}

func (a *stubAuthority) CompletePastForUser(_ context.Context, _ uuid.UUID) (int64, error) {
	return a.completed, nil
}

func (a *stubAuthority) GetAppointment(_ context.Context, appointmentID uuid.UUID) (*domain.Appointment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	appt, ok := a.appointments[appointmentID]
	if !ok {
		return nil, &domain.ValidationError{Field: "appointment_id", Reason: "not found"}
	}
	cp := *appt
	return &cp, nil
}

type stubProfiles struct {
	calls int
}

func (p *stubProfiles) EnsureExists(_ context.Context, _ uuid.UUID, _, _ string) error {
	p.calls++
	return nil
}

// stubIntents resolves stored payment intents for orchestrator wiring.
type stubIntents struct {
	byRef map[string]payments.Intent
}

func (s *stubIntents) GetByGatewayRef(_ context.Context, ref string) (*payments.Intent, error) {
	in, ok := s.byRef[ref]
	if !ok {
		return nil, &domain.ValidationError{Field: "gateway_ref", Reason: "intent not found"}
	}
	return &in, nil
}

type stubSlotTimes struct {
	date  string
	start string
}

func (s *stubSlotTimes) SlotTimes(_ context.Context, _ uuid.UUID) (string, string, error) {
	return s.date, s.start, nil
}

// stubShopStore backs both the reconciler and the order service.
type stubShopStore struct {
	prices  map[uuid.UUID]int64
	coupons map[string]int64
	placed  int
}

func (s *stubShopStore) ProductPriceCents(_ context.Context, productID uuid.UUID) (int64, error) {
	price, ok := s.prices[productID]
	if !ok {
		return 0, &domain.ValidationError{Field: "product_id", Reason: "unknown product"}
	}
	return price, nil
}

func (s *stubShopStore) CouponDiscountCents(_ context.Context, code string, _ int64) (int64, error) {
	return s.coupons[code], nil
}

func (s *stubShopStore) PlaceOrder(_ context.Context, order domain.Order, _ []shop.PricedLine, _ string) (*domain.Order, error) {
	s.placed++
	order.CreatedAt = time.Now()
	return &order, nil
}

// testClock returns a clock pinned to 2025-06-02 09:00 clinic time.
func testClock(t *testing.T) *clinicclock.Clock {
	t.Helper()
	c, err := clinicclock.New("Asia/Kolkata")
	require.NoError(t, err)
	base, err := time.ParseInLocation("2006-01-02 15:04", "2025-06-02 09:00", c.Location())
	require.NoError(t, err)
	return c.WithNow(func() time.Time { return base })
}

func authedRequest(t *testing.T, method, target string, body any, userID uuid.UUID) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	return req.WithContext(middleware.WithUserID(req.Context(), userID))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}
