package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/calmora/clinic-booking/internal/clinicclock"
	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/pkg/logging"
)

var catalogTracer = otel.Tracer("clinic.internal.catalog")

// slotSource is the repository surface the service reads from. Narrowed to
// an interface so tests can stub it.
type slotSource interface {
	ServiceByID(ctx context.Context, serviceID uuid.UUID) (*domain.Service, error)
	DatesWithAvailability(ctx context.Context, serviceID uuid.UUID, nowDate, nowTime string) ([]string, error)
	SlotsFor(ctx context.Context, serviceID uuid.UUID, date string) ([]domain.AvailabilitySlot, error)
	TherapistsOffering(ctx context.Context, serviceID uuid.UUID, nowDate, nowTime string) ([]domain.Therapist, error)
	UpcomingSlots(ctx context.Context, nowDate, nowTime string, limit int) ([]domain.AvailabilitySlot, error)
}

// Service is the SlotCatalog: read-only queries over unbooked future slots,
// with a short-TTL cache in front of the hot paths. Filtering out past slots
// here is a UX optimization only; the Authority enforces it for real.
type Service struct {
	repo    slotSource
	cache   *SlotCache
	clock   *clinicclock.Clock
	horizon int
	logger  *logging.Logger
}

// NewService constructs the slot catalog. The cache is optional.
func NewService(repo slotSource, cache *SlotCache, clock *clinicclock.Clock, logger *logging.Logger) *Service {
	if repo == nil {
		panic("catalog: repository required")
	}
	if clock == nil {
		panic("catalog: clock required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, cache: cache, clock: clock, logger: logger}
}

// WithHorizon bounds DatesWithAvailability to the next days clinic-local
// days. Zero or negative disables the bound.
func (s *Service) WithHorizon(days int) *Service {
	s.horizon = days
	return s
}

// ServiceByID re-reads the service row, price included.
func (s *Service) ServiceByID(ctx context.Context, serviceID uuid.UUID) (*domain.Service, error) {
	return s.repo.ServiceByID(ctx, serviceID)
}

// DatesWithAvailability lists clinic-local dates with at least one open
// slot, trimmed to the booking horizon when one is configured.
func (s *Service) DatesWithAvailability(ctx context.Context, serviceID uuid.UUID) ([]string, error) {
	nowDate, nowTime := s.clock.NowParts()
	dates, err := s.repo.DatesWithAvailability(ctx, serviceID, nowDate, nowTime)
	if err != nil || s.horizon <= 0 {
		return dates, err
	}
	window := make(map[string]struct{}, s.horizon)
	for _, d := range s.clock.DateWindow(s.horizon) {
		window[d] = struct{}{}
	}
	out := dates[:0:0]
	for _, d := range dates {
		if _, ok := window[d]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// SlotsFor lists open slots for a service on a date, past slots filtered.
func (s *Service) SlotsFor(ctx context.Context, serviceID uuid.UUID, date string) ([]domain.AvailabilitySlot, error) {
	ctx, span := catalogTracer.Start(ctx, "catalog.slots_for")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.service_id", serviceID.String()))

	key := fmt.Sprintf("%s:%s", serviceID, date)
	if s.cache != nil {
		if slots, ok := s.cache.Get(ctx, key); ok {
			span.SetAttributes(attribute.Bool("clinic.cache_hit", true))
			return s.dropPast(slots), nil
		}
	}

	slots, err := s.repo.SlotsFor(ctx, serviceID, date)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Put(ctx, key, slots)
	}
	return s.dropPast(slots), nil
}

// TherapistsOffering lists active therapists with future availability.
func (s *Service) TherapistsOffering(ctx context.Context, serviceID uuid.UUID) ([]domain.Therapist, error) {
	nowDate, nowTime := s.clock.NowParts()
	return s.repo.TherapistsOffering(ctx, serviceID, nowDate, nowTime)
}

// NextAvailableSlots returns the earliest open slot per (service, therapist)
// pair, at most limit entries.
func (s *Service) NextAvailableSlots(ctx context.Context, limit int) ([]domain.AvailabilitySlot, error) {
	ctx, span := catalogTracer.Start(ctx, "catalog.next_available")
	defer span.End()

	if limit <= 0 {
		return nil, &domain.ValidationError{Field: "limit", Reason: "must be positive"}
	}

	// A shared key would let a small-limit result shadow larger requests
	// for the whole TTL.
	nextKey := fmt.Sprintf("next-available:%d", limit)
	if s.cache != nil {
		if slots, ok := s.cache.Get(ctx, nextKey); ok {
			span.SetAttributes(attribute.Bool("clinic.cache_hit", true))
			return capSlice(s.dropPast(slots), limit), nil
		}
	}

	nowDate, nowTime := s.clock.NowParts()
	// Overfetch so dedupe still fills the limit when one pair dominates the
	// earliest slots.
	raw, err := s.repo.UpcomingSlots(ctx, nowDate, nowTime, limit*10)
	if err != nil {
		return nil, err
	}

	type pair struct{ service, therapist uuid.UUID }
	seen := make(map[pair]struct{}, limit)
	var deduped []domain.AvailabilitySlot
	for _, slot := range raw {
		p := pair{slot.ServiceID, slot.TherapistID}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		deduped = append(deduped, slot)
		if len(deduped) == limit {
			break
		}
	}

	if s.cache != nil {
		s.cache.Put(ctx, nextKey, deduped)
	}
	return deduped, nil
}

func (s *Service) dropPast(slots []domain.AvailabilitySlot) []domain.AvailabilitySlot {
	out := slots[:0:0]
	for _, slot := range slots {
		if !s.clock.IsPast(slot.Date, slot.StartTime) {
			out = append(out, slot)
		}
	}
	return out
}

func capSlice(slots []domain.AvailabilitySlot, limit int) []domain.AvailabilitySlot {
	if len(slots) > limit {
		return slots[:limit]
	}
	return slots
}
