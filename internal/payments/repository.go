package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/calmora/clinic-booking/internal/domain"
)

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Intent is a persisted payment attempt against one of the gateways.
// GatewayRef holds the provider's order id (web checkout) or intent id
// (native sheet).
type Intent struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	ServiceID        uuid.UUID
	Method           domain.PaymentMethod
	Gateway          string
	GatewayRef       string
	GatewayPaymentID string
	AmountCents      int64
	Status           domain.PaymentStatus
	CreatedAt        time.Time
}

// Repository persists payment intents and their status transitions.
type Repository struct {
	db DB
}

// NewRepository creates a repository backed by pgx.
func NewRepository(db DB) *Repository {
	if db == nil {
		panic("payments: db required")
	}
	return &Repository{db: db}
}

// CreateIntent records a new pending intent.
func (r *Repository) CreateIntent(ctx context.Context, intent Intent) (*Intent, error) {
	if intent.ID == uuid.Nil {
		intent.ID = uuid.New()
	}
	intent.Status = domain.PaymentPending
	err := r.db.QueryRow(ctx, `
		INSERT INTO payment_intents (id, user_id, service_id, method, gateway, gateway_ref, amount_cents, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, intent.ID, intent.UserID, intent.ServiceID, string(intent.Method), intent.Gateway,
		intent.GatewayRef, intent.AmountCents, string(intent.Status)).Scan(&intent.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("payments: insert intent: %w", err)
	}
	return &intent, nil
}

// MarkPaid transitions the intent identified by its gateway reference to
// paid and records the gateway payment id. Replays are harmless.
func (r *Repository) MarkPaid(ctx context.Context, gatewayRef, gatewayPaymentID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE payment_intents
		SET status = 'paid', gateway_payment_id = $2, updated_at = now()
		WHERE gateway_ref = $1 AND status IN ('pending', 'paid')
	`, gatewayRef, gatewayPaymentID)
	if err != nil {
		return fmt.Errorf("payments: mark paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ValidationError{Field: "gateway_ref", Reason: "intent not found"}
	}
	return nil
}

// MarkFailed transitions a pending intent to failed.
func (r *Repository) MarkFailed(ctx context.Context, gatewayRef string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE payment_intents
		SET status = 'failed', updated_at = now()
		WHERE gateway_ref = $1 AND status = 'pending'
	`, gatewayRef)
	if err != nil {
		return fmt.Errorf("payments: mark failed: %w", err)
	}
	return nil
}

// GetByGatewayRef loads an intent by its provider reference.
func (r *Repository) GetByGatewayRef(ctx context.Context, gatewayRef string) (*Intent, error) {
	var (
		in        Intent
		method    string
		status    string
		paymentID *string
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, service_id, method, gateway, gateway_ref, gateway_payment_id, amount_cents, status, created_at
		FROM payment_intents
		WHERE gateway_ref = $1
	`, gatewayRef).Scan(&in.ID, &in.UserID, &in.ServiceID, &method, &in.Gateway,
		&in.GatewayRef, &paymentID, &in.AmountCents, &status, &in.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ValidationError{Field: "gateway_ref", Reason: "intent not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("payments: load intent: %w", err)
	}
	in.Method = domain.PaymentMethod(method)
	in.Status = domain.PaymentStatus(status)
	if paymentID != nil {
		in.GatewayPaymentID = *paymentID
	}
	return &in, nil
}

// AlreadyProcessed reports whether a gateway event id was handled before.
func (r *Repository) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM processed_gateway_events WHERE provider = $1 AND event_id = $2)
	`, provider, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("payments: processed lookup: %w", err)
	}
	return exists, nil
}

// MarkProcessed records a handled gateway event id. Safe to replay.
func (r *Repository) MarkProcessed(ctx context.Context, provider, eventID string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO processed_gateway_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, provider, eventID)
	if err != nil {
		return fmt.Errorf("payments: mark processed: %w", err)
	}
	return nil
}
