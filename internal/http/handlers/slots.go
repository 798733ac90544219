package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/calmora/clinic-booking/internal/catalog"
	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/pkg/logging"
)

// SlotsHandler serves the slot catalog projections.
type SlotsHandler struct {
	catalog *catalog.Service
	maxNext int
	logger  *logging.Logger
}

// NewSlotsHandler creates the handler.
func NewSlotsHandler(c *catalog.Service, logger *logging.Logger) *SlotsHandler {
	if c == nil {
		panic("handlers: catalog required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SlotsHandler{catalog: c, maxNext: 10, logger: logger}
}

// WithNextLimit caps the limit query parameter on the next-available
// listing.
func (h *SlotsHandler) WithNextLimit(n int) *SlotsHandler {
	if n > 0 {
		h.maxNext = n
	}
	return h
}

type slotResponse struct {
	ID          uuid.UUID `json:"id"`
	TherapistID uuid.UUID `json:"therapist_id"`
	ServiceID   uuid.UUID `json:"service_id"`
	Date        string    `json:"date"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
}

type therapistResponse struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Speciality string    `json:"speciality"`
}

func slotResponses(slots []domain.AvailabilitySlot) []slotResponse {
	out := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotResponse{
			ID: s.ID, TherapistID: s.TherapistID, ServiceID: s.ServiceID,
			Date: s.Date, StartTime: s.StartTime, EndTime: s.EndTime,
		})
	}
	return out
}

func serviceIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "serviceID"))
	if err != nil {
		return uuid.Nil, &domain.ValidationError{Field: "service_id", Reason: "invalid uuid"}
	}
	return id, nil
}

// ListDates handles GET /services/{serviceID}/dates.
func (h *SlotsHandler) ListDates(w http.ResponseWriter, r *http.Request) {
	serviceID, err := serviceIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	dates, err := h.catalog.DatesWithAvailability(r.Context(), serviceID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": dates})
}

// ListSlots handles GET /services/{serviceID}/slots?date=2006-01-02.
func (h *SlotsHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	serviceID, err := serviceIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		writeError(w, h.logger, &domain.ValidationError{Field: "date", Reason: "required"})
		return
	}
	slots, err := h.catalog.SlotsFor(r.Context(), serviceID, date)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slotResponses(slots)})
}

// ListTherapists handles GET /services/{serviceID}/therapists.
func (h *SlotsHandler) ListTherapists(w http.ResponseWriter, r *http.Request) {
	serviceID, err := serviceIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	therapists, err := h.catalog.TherapistsOffering(r.Context(), serviceID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out := make([]therapistResponse, 0, len(therapists))
	for _, t := range therapists {
		out = append(out, therapistResponse{ID: t.ID, Name: t.Name, Speciality: t.Speciality})
	}
	writeJSON(w, http.StatusOK, map[string]any{"therapists": out})
}

// NextAvailable handles GET /slots/next?limit=N.
func (h *SlotsHandler) NextAvailable(w http.ResponseWriter, r *http.Request) {
	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, h.logger, &domain.ValidationError{Field: "limit", Reason: "must be an integer"})
			return
		}
		limit = parsed
	}
	if limit > h.maxNext {
		limit = h.maxNext
	}
	slots, err := h.catalog.NextAvailableSlots(r.Context(), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slotResponses(slots)})
}
