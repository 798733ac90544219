package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/calmora/clinic-booking/internal/catalog"
	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/pkg/logging"
)

type stubSlotSource struct {
	dates      []string
	slots      []domain.AvailabilitySlot
	therapists []domain.Therapist
}

func (s *stubSlotSource) ServiceByID(_ context.Context, serviceID uuid.UUID) (*domain.Service, error) {
	return &domain.Service{ID: serviceID, Name: "Swedish Massage", PriceCents: 70000, Active: true}, nil
}

func (s *stubSlotSource) DatesWithAvailability(_ context.Context, _ uuid.UUID, _, _ string) ([]string, error) {
	return s.dates, nil
}

func (s *stubSlotSource) SlotsFor(_ context.Context, _ uuid.UUID, _ string) ([]domain.AvailabilitySlot, error) {
	return s.slots, nil
}

func (s *stubSlotSource) TherapistsOffering(_ context.Context, _ uuid.UUID, _, _ string) ([]domain.Therapist, error) {
	return s.therapists, nil
}

func (s *stubSlotSource) UpcomingSlots(_ context.Context, _, _ string, limit int) ([]domain.AvailabilitySlot, error) {
	if limit < len(s.slots) {
		return s.slots[:limit], nil
	}
	return s.slots, nil
}

func newSlotsRouter(t *testing.T, src *stubSlotSource) http.Handler {
	t.Helper()
	svc := catalog.NewService(src, nil, testClock(t), logging.Nop())
	h := NewSlotsHandler(svc, logging.Nop())
	r := chi.NewRouter()
	r.Get("/services/{serviceID}/dates", h.ListDates)
	r.Get("/services/{serviceID}/slots", h.ListSlots)
	r.Get("/services/{serviceID}/therapists", h.ListTherapists)
	r.Get("/slots/next", h.NextAvailable)
	return r
}

func TestListDates(t *testing.T) {
	src := &stubSlotSource{dates: []string{"2025-06-03", "2025-06-04"}}
	router := newSlotsRouter(t, src)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/services/"+uuid.NewString()+"/dates", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	require.Len(t, resp["dates"], 2)
}

func TestListSlotsRequiresDate(t *testing.T) {
	router := newSlotsRouter(t, &stubSlotSource{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/services/"+uuid.NewString()+"/slots", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSlotsFiltersPast(t *testing.T) {
	// Clock is pinned to 2025-06-02 09:00; the 08:00 slot is already gone.
	src := &stubSlotSource{slots: []domain.AvailabilitySlot{
		{ID: uuid.New(), Date: "2025-06-02", StartTime: "08:00", EndTime: "09:00"},
		{ID: uuid.New(), Date: "2025-06-02", StartTime: "11:00", EndTime: "12:00"},
	}}
	router := newSlotsRouter(t, src)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/services/"+uuid.NewString()+"/slots?date=2025-06-02", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	slots := resp["slots"].([]any)
	require.Len(t, slots, 1)
	slot := slots[0].(map[string]any)
	require.Equal(t, "11:00", slot["start_time"])
}

func TestListTherapists(t *testing.T) {
	src := &stubSlotSource{therapists: []domain.Therapist{
		{ID: uuid.New(), Name: "Meera Pillai", Speciality: "Deep tissue"},
	}}
	router := newSlotsRouter(t, src)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/services/"+uuid.NewString()+"/therapists", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	therapists := resp["therapists"].([]any)
	require.Len(t, therapists, 1)
	require.Equal(t, "Meera Pillai", therapists[0].(map[string]any)["name"])
}

func TestNextAvailableCapsLimit(t *testing.T) {
	src := &stubSlotSource{slots: []domain.AvailabilitySlot{
		{ID: uuid.New(), ServiceID: uuid.New(), TherapistID: uuid.New(), Date: "2025-06-03", StartTime: "09:00"},
		{ID: uuid.New(), ServiceID: uuid.New(), TherapistID: uuid.New(), Date: "2025-06-03", StartTime: "10:00"},
		{ID: uuid.New(), ServiceID: uuid.New(), TherapistID: uuid.New(), Date: "2025-06-03", StartTime: "11:00"},
	}}
	svc := catalog.NewService(src, nil, testClock(t), logging.Nop())
	h := NewSlotsHandler(svc, logging.Nop()).WithNextLimit(2)
	r := chi.NewRouter()
	r.Get("/slots/next", h.NextAvailable)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slots/next?limit=50", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	require.Len(t, resp["slots"], 2)
}

func TestNextAvailableBadLimit(t *testing.T) {
	router := newSlotsRouter(t, &stubSlotSource{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slots/next?limit=abc", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
