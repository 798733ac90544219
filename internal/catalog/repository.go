// Package catalog serves read-only projections over services, therapists and
// availability slots. Everything here is advisory: the Reservation Authority
// re-checks slot state inside its own transaction.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/calmora/clinic-booking/internal/domain"
)

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository runs catalog queries against Postgres.
type Repository struct {
	db DB
}

// NewRepository creates a catalog repository.
func NewRepository(db DB) *Repository {
	if db == nil {
		panic("catalog: db required")
	}
	return &Repository{db: db}
}

// ServiceByID loads a service. Callers re-read the price here at payment and
// booking time rather than trusting anything cached.
func (r *Repository) ServiceByID(ctx context.Context, serviceID uuid.UUID) (*domain.Service, error) {
	var s domain.Service
	err := r.db.QueryRow(ctx, `
		SELECT id, name, category, duration_mins, price_cents, online_allowed, active
		FROM services
		WHERE id = $1
	`, serviceID).Scan(&s.ID, &s.Name, &s.Category, &s.DurationMins, &s.PriceCents, &s.OnlineAllowed, &s.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ValidationError{Field: "service_id", Reason: "not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: load service: %w", err)
	}
	return &s, nil
}

// DatesWithAvailability returns distinct clinic-local dates that still have
// unbooked future slots for the service.
func (r *Repository) DatesWithAvailability(ctx context.Context, serviceID uuid.UUID, nowDate, nowTime string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT to_char(slot_date, 'YYYY-MM-DD') AS d
		FROM availability_slots
		WHERE service_id = $1
		  AND is_booked = FALSE
		  AND (slot_date > $2::date OR (slot_date = $2::date AND start_time > $3::time))
		ORDER BY d
	`, serviceID, nowDate, nowTime)
	if err != nil {
		return nil, fmt.Errorf("catalog: dates with availability: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("catalog: scan date: %w", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// SlotsFor returns unbooked slots for a service on a date, earliest first.
func (r *Repository) SlotsFor(ctx context.Context, serviceID uuid.UUID, date string) ([]domain.AvailabilitySlot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, therapist_id, service_id,
		       to_char(slot_date, 'YYYY-MM-DD'), to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
		       is_booked
		FROM availability_slots
		WHERE service_id = $1 AND slot_date = $2::date AND is_booked = FALSE
		ORDER BY start_time
	`, serviceID, date)
	if err != nil {
		return nil, fmt.Errorf("catalog: slots for date: %w", err)
	}
	defer rows.Close()
	return scanSlots(rows)
}

// TherapistsOffering returns active therapists with at least one unbooked
// future slot for the service.
func (r *Repository) TherapistsOffering(ctx context.Context, serviceID uuid.UUID, nowDate, nowTime string) ([]domain.Therapist, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT t.id, t.name, t.speciality, t.active
		FROM therapists t
		JOIN availability_slots s ON s.therapist_id = t.id
		WHERE s.service_id = $1
		  AND t.active = TRUE
		  AND s.is_booked = FALSE
		  AND (s.slot_date > $2::date OR (s.slot_date = $2::date AND s.start_time > $3::time))
		ORDER BY t.name
	`, serviceID, nowDate, nowTime)
	if err != nil {
		return nil, fmt.Errorf("catalog: therapists offering: %w", err)
	}
	defer rows.Close()

	var out []domain.Therapist
	for rows.Next() {
		var t domain.Therapist
		if err := rows.Scan(&t.ID, &t.Name, &t.Speciality, &t.Active); err != nil {
			return nil, fmt.Errorf("catalog: scan therapist: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpcomingSlots returns unbooked future slots across all services ordered by
// start, bounded to limit rows. The catalog service dedupes per
// (service, therapist) pair on top of this.
func (r *Repository) UpcomingSlots(ctx context.Context, nowDate, nowTime string, limit int) ([]domain.AvailabilitySlot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, therapist_id, service_id,
		       to_char(slot_date, 'YYYY-MM-DD'), to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
		       is_booked
		FROM availability_slots
		WHERE is_booked = FALSE
		  AND (slot_date > $1::date OR (slot_date = $1::date AND start_time > $2::time))
		ORDER BY slot_date, start_time
		LIMIT $3
	`, nowDate, nowTime, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: upcoming slots: %w", err)
	}
	defer rows.Close()
	return scanSlots(rows)
}

func scanSlots(rows pgx.Rows) ([]domain.AvailabilitySlot, error) {
	var out []domain.AvailabilitySlot
	for rows.Next() {
		var s domain.AvailabilitySlot
		if err := rows.Scan(&s.ID, &s.TherapistID, &s.ServiceID, &s.Date, &s.StartTime, &s.EndTime, &s.IsBooked); err != nil {
			return nil, fmt.Errorf("catalog: scan slot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
