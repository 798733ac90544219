package payments

import (
	"context"
	"fmt"
	"sync"

	"github.com/calmora/clinic-booking/internal/domain"
)

// State is the coordinator's position in one payment attempt.
type State string

const (
	StateIdle            State = "idle"
	StateAwaitingGateway State = "awaiting_gateway"
	StateProofReady      State = "proof_ready"
)

// Coordinator is a per-booking-attempt state machine over the three payment
// strategies. Clinic-pay yields a pending proof immediately; the gateway
// paths park in AwaitingGateway until a verified callback or a confirmed
// webhook releases the proof. Cancel at any step returns to Idle with no
// residue.
type Coordinator struct {
	mu         sync.Mutex
	svc        *Service
	state      State
	gatewayRef string
	proof      *domain.PaymentProof
}

// NewCoordinator creates an idle coordinator for one attempt.
func NewCoordinator(svc *Service) *Coordinator {
	if svc == nil {
		panic("payments: service required")
	}
	return &Coordinator{svc: svc, state: StateIdle}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Proof returns the released payment proof, if any.
func (c *Coordinator) Proof() (*domain.PaymentProof, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proof == nil {
		return nil, false
	}
	copied := *c.proof
	return &copied, true
}

// Cancel aborts the attempt from any state. No booking side effect remains;
// an abandoned gateway order simply expires provider-side.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
	c.gatewayRef = ""
	c.proof = nil
}

// StartClinicPay produces the clinic-pay proof. There is no external step:
// the patient pays at the clinic, so the proof stays pending.
func (c *Coordinator) StartClinicPay() (*domain.PaymentProof, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return nil, fmt.Errorf("payments: clinic pay not allowed in state %s", c.state)
	}
	c.proof = &domain.PaymentProof{Method: domain.MethodClinicPay, Status: domain.PaymentPending}
	c.state = StateProofReady
	copied := *c.proof
	return &copied, nil
}

// StartWebCheckout creates the gateway order and moves to AwaitingGateway.
// The amount is recomputed from the catalog before any provider call.
func (c *Coordinator) StartWebCheckout(ctx context.Context, in CreateOrderInput) (*GatewayOrder, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("payments: checkout not allowed in state %s", state)
	}
	c.mu.Unlock()

	order, err := c.svc.CreateCheckoutOrder(ctx, in)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.gatewayRef = order.OrderID
	c.state = StateAwaitingGateway
	c.mu.Unlock()
	return order, nil
}

// CompleteWebCheckout verifies the callback signature for the in-flight
// order and releases the proof. A failed verification leaves the attempt in
// AwaitingGateway so a legitimate callback can still land.
func (c *Coordinator) CompleteWebCheckout(ctx context.Context, paymentID, signature string) (*domain.PaymentProof, error) {
	c.mu.Lock()
	if c.state != StateAwaitingGateway {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("payments: checkout completion not allowed in state %s", state)
	}
	ref := c.gatewayRef
	c.mu.Unlock()

	proof, err := c.svc.VerifyCheckout(ctx, ref, paymentID, signature)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.proof = proof
	c.state = StateProofReady
	c.mu.Unlock()
	copied := *proof
	return &copied, nil
}

// StartNativeSheet creates the payment intent and moves to AwaitingGateway.
func (c *Coordinator) StartNativeSheet(ctx context.Context, in CreateOrderInput) (*GatewayIntent, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("payments: sheet intent not allowed in state %s", state)
	}
	c.mu.Unlock()

	intent, err := c.svc.CreateSheetIntent(ctx, in)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.gatewayRef = intent.IntentID
	c.state = StateAwaitingGateway
	c.mu.Unlock()
	return intent, nil
}

// CompleteNativeSheet releases the proof for the in-flight intent once the
// provider's webhook has confirmed it. The sheet result reported by the
// client is not sufficient: until the confirmation is recorded this returns
// ErrAwaitingConfirmation and stays in AwaitingGateway.
func (c *Coordinator) CompleteNativeSheet(ctx context.Context) (*domain.PaymentProof, error) {
	c.mu.Lock()
	if c.state != StateAwaitingGateway {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("payments: sheet completion not allowed in state %s", state)
	}
	ref := c.gatewayRef
	c.mu.Unlock()

	proof, err := c.svc.SheetProof(ctx, ref)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.proof = proof
	c.state = StateProofReady
	c.mu.Unlock()
	copied := *proof
	return &copied, nil
}
