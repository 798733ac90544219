// Package profiles stores the minimal user profile a booking needs to exist.
package profiles

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/calmora/clinic-booking/internal/notify"
	"github.com/calmora/clinic-booking/pkg/logging"
)

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository upserts user profiles.
type Repository struct {
	db     DB
	logger *logging.Logger
}

// NewRepository creates a profile repository backed by pgx.
func NewRepository(db DB, logger *logging.Logger) *Repository {
	if db == nil {
		panic("profiles: db required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Repository{db: db, logger: logger}
}

// EnsureExists creates a profile row if one is absent. Safe under the race
// where a concurrent request creates it first: ON CONFLICT DO NOTHING makes
// both writers succeed.
func (r *Repository) EnsureExists(ctx context.Context, userID uuid.UUID, name, phone string) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO user_profiles (user_id, display_name, phone)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, name, phone)
	if err != nil {
		return fmt.Errorf("profiles: ensure exists: %w", err)
	}
	if tag.RowsAffected() > 0 {
		r.logger.Info("profile created", "user_id", userID)
	}
	return nil
}

// ContactFor returns the profile's contact details for notifications.
func (r *Repository) ContactFor(ctx context.Context, userID uuid.UUID) (*notify.Contact, error) {
	var (
		name  string
		email *string
	)
	err := r.db.QueryRow(ctx, `
		SELECT display_name, email FROM user_profiles WHERE user_id = $1
	`, userID).Scan(&name, &email)
	if err != nil {
		return nil, fmt.Errorf("profiles: contact lookup: %w", err)
	}
	contact := &notify.Contact{Name: name}
	if email != nil {
		contact.Email = *email
	}
	return contact, nil
}

// Exists reports whether a profile row is present.
func (r *Repository) Exists(ctx context.Context, userID uuid.UUID) (bool, error) {
	var found bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM user_profiles WHERE user_id = $1)
	`, userID).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("profiles: lookup: %w", err)
	}
	return found, nil
}
