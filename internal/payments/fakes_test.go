package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/pkg/logging"
)

// fakePrices is a fixed-price catalog.
type fakePrices struct {
	services map[uuid.UUID]*domain.Service
}

func newFakePrices() *fakePrices {
	return &fakePrices{services: make(map[uuid.UUID]*domain.Service)}
}

func (p *fakePrices) add(priceCents int64) uuid.UUID {
	id := uuid.New()
	p.services[id] = &domain.Service{
		ID: id, Name: "Deep Tissue Massage", PriceCents: priceCents, OnlineAllowed: true, Active: true,
	}
	return id
}

func (p *fakePrices) ServiceByID(ctx context.Context, serviceID uuid.UUID) (*domain.Service, error) {
	svc, ok := p.services[serviceID]
	if !ok {
		return nil, &domain.ValidationError{Field: "service_id", Reason: "not found"}
	}
	return svc, nil
}

// fakeIntentStore is an in-memory intentStore and processedTracker.
type fakeIntentStore struct {
	mu        sync.Mutex
	intents   map[string]*Intent
	processed map[string]bool
	paidCalls int
}

func newFakeIntentStore() *fakeIntentStore {
	return &fakeIntentStore{intents: make(map[string]*Intent), processed: make(map[string]bool)}
}

func (s *fakeIntentStore) CreateIntent(ctx context.Context, intent Intent) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if intent.ID == uuid.Nil {
		intent.ID = uuid.New()
	}
	intent.Status = domain.PaymentPending
	intent.CreatedAt = time.Now()
	s.intents[intent.GatewayRef] = &intent
	return &intent, nil
}

func (s *fakeIntentStore) MarkPaid(ctx context.Context, gatewayRef, gatewayPaymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[gatewayRef]
	if !ok {
		return &domain.ValidationError{Field: "gateway_ref", Reason: "intent not found"}
	}
	in.Status = domain.PaymentPaid
	in.GatewayPaymentID = gatewayPaymentID
	s.paidCalls++
	return nil
}

func (s *fakeIntentStore) MarkFailed(ctx context.Context, gatewayRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in, ok := s.intents[gatewayRef]; ok && in.Status == domain.PaymentPending {
		in.Status = domain.PaymentFailed
	}
	return nil
}

func (s *fakeIntentStore) GetByGatewayRef(ctx context.Context, gatewayRef string) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[gatewayRef]
	if !ok {
		return nil, &domain.ValidationError{Field: "gateway_ref", Reason: "intent not found"}
	}
	copied := *in
	return &copied, nil
}

func (s *fakeIntentStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[provider+":"+eventID], nil
}

func (s *fakeIntentStore) MarkProcessed(ctx context.Context, provider, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[provider+":"+eventID] = true
	return nil
}

// fakeOrderCreator counts gateway calls without any HTTP.
type fakeOrderCreator struct {
	mu    sync.Mutex
	calls int
}

func (g *fakeOrderCreator) CreateOrder(ctx context.Context, receiptID, description string, amountCents int64) (*GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return &GatewayOrder{OrderID: "order_" + uuid.New().String()[:8], AmountCents: amountCents, Currency: "INR", Status: "created"}, nil
}

type fakeIntentCreator struct {
	mu    sync.Mutex
	calls int
}

func (g *fakeIntentCreator) CreateIntent(ctx context.Context, receiptID string, amountCents int64) (*GatewayIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return &GatewayIntent{IntentID: "pi_" + uuid.New().String()[:8], ClientSecret: "cs_test", AmountCents: amountCents, Status: "requires_confirmation"}, nil
}

func newTestConfirmations(t *testing.T, ttl time.Duration) (*SheetConfirmations, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSheetConfirmations(client, ttl, logging.Nop()), mr
}

func requireValidation(t *testing.T, err error) {
	t.Helper()
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}
