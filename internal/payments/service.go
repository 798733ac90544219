package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/pkg/logging"
)

// ErrAwaitingConfirmation is returned when a native-sheet proof is requested
// before the provider's webhook has confirmed the payment.
var ErrAwaitingConfirmation = errors.New("payments: awaiting gateway confirmation")

// priceSource re-reads the authoritative service price at payment time.
type priceSource interface {
	ServiceByID(ctx context.Context, serviceID uuid.UUID) (*domain.Service, error)
}

// orderCreator creates an order with the web-checkout provider.
type orderCreator interface {
	CreateOrder(ctx context.Context, receiptID, description string, amountCents int64) (*GatewayOrder, error)
}

// intentCreator creates a payment intent with the native-sheet provider.
type intentCreator interface {
	CreateIntent(ctx context.Context, receiptID string, amountCents int64) (*GatewayIntent, error)
}

// intentStore persists intents and their transitions.
type intentStore interface {
	CreateIntent(ctx context.Context, intent Intent) (*Intent, error)
	MarkPaid(ctx context.Context, gatewayRef, gatewayPaymentID string) error
	GetByGatewayRef(ctx context.Context, gatewayRef string) (*Intent, error)
}

// Metrics records payment verification outcomes. Optional.
type Metrics interface {
	ObserveVerification(gateway string, ok bool)
}

// Service drives gateway-mediated payments: order/intent creation with
// server-side amount recomputation, callback verification, and proof
// release. A claimed amount that disagrees with the catalog price is
// rejected before any provider HTTP call.
type Service struct {
	prices        priceSource
	checkout      orderCreator
	sheet         intentCreator
	store         intentStore
	confirmations *SheetConfirmations
	secret        string
	metrics       Metrics
	logger        *logging.Logger
}

// NewService constructs the payment service. secret is the server-held
// callback-signing secret shared with the web-checkout provider.
func NewService(prices priceSource, checkout orderCreator, sheet intentCreator, store intentStore, confirmations *SheetConfirmations, secret string, logger *logging.Logger) *Service {
	if prices == nil {
		panic("payments: price source required")
	}
	if store == nil {
		panic("payments: intent store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		prices:        prices,
		checkout:      checkout,
		sheet:         sheet,
		store:         store,
		confirmations: confirmations,
		secret:        secret,
		logger:        logger,
	}
}

// WithMetrics attaches verification metrics.
func (s *Service) WithMetrics(m Metrics) *Service {
	s.metrics = m
	return s
}

// WithCheckout attaches the web-checkout gateway. Unset keeps the strategy
// disabled.
func (s *Service) WithCheckout(gw orderCreator) *Service {
	s.checkout = gw
	return s
}

// WithSheet attaches the native-sheet gateway.
func (s *Service) WithSheet(gw intentCreator) *Service {
	s.sheet = gw
	return s
}

// CreateOrderInput is one web-checkout or native-sheet creation request.
// ClaimedAmountCents is what the client computed; it is checked, never
// trusted.
type CreateOrderInput struct {
	UserID             uuid.UUID
	ServiceID          uuid.UUID
	ClaimedAmountCents int64
}

func (s *Service) recomputeAmount(ctx context.Context, in CreateOrderInput) (*domain.Service, error) {
	if in.UserID == uuid.Nil {
		return nil, &domain.ValidationError{Field: "user_id", Reason: "required"}
	}
	if in.ServiceID == uuid.Nil {
		return nil, &domain.ValidationError{Field: "service_id", Reason: "required"}
	}
	if in.ClaimedAmountCents <= 0 {
		return nil, &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	svc, err := s.prices.ServiceByID(ctx, in.ServiceID)
	if err != nil {
		return nil, err
	}
	if !svc.Active || !svc.OnlineAllowed {
		return nil, &domain.ValidationError{Field: "service_id", Reason: "not available for online payment"}
	}
	if svc.PriceCents != in.ClaimedAmountCents {
		s.logger.Warn("payment amount mismatch",
			"service_id", in.ServiceID, "claimed_cents", in.ClaimedAmountCents, "price_cents", svc.PriceCents)
		return nil, &domain.ConflictError{
			Code:    domain.CodeAmountMismatch,
			Message: fmt.Sprintf("claimed amount %d does not match current price %d", in.ClaimedAmountCents, svc.PriceCents),
		}
	}
	return svc, nil
}

// CreateCheckoutOrder recomputes the amount from the catalog, rejects any
// mismatch, then registers an order with the web-checkout provider and
// persists the pending intent.
func (s *Service) CreateCheckoutOrder(ctx context.Context, in CreateOrderInput) (*GatewayOrder, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.create_checkout_order")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.service_id", in.ServiceID.String()))

	svc, err := s.recomputeAmount(ctx, in)
	if err != nil {
		return nil, err
	}
	if s.checkout == nil {
		return nil, &domain.GatewayError{Gateway: "webcheckout", Message: "gateway not configured"}
	}

	receiptID := "rcpt_" + uuid.New().String()
	order, err := s.checkout.CreateOrder(ctx, receiptID, svc.Name, svc.PriceCents)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.CreateIntent(ctx, Intent{
		UserID:      in.UserID,
		ServiceID:   in.ServiceID,
		Method:      domain.MethodWebCheckout,
		Gateway:     "webcheckout",
		GatewayRef:  order.OrderID,
		AmountCents: svc.PriceCents,
	}); err != nil {
		return nil, err
	}
	return order, nil
}

// VerifyCheckout validates a checkout callback's HMAC signature and, on
// success, marks the intent paid and releases the payment proof. An
// unverified callback never produces a proof.
func (s *Service) VerifyCheckout(ctx context.Context, orderID, paymentID, signature string) (*domain.PaymentProof, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.verify_checkout")
	defer span.End()

	if orderID == "" {
		return nil, &domain.ValidationError{Field: "gateway_order_id", Reason: "required"}
	}
	if paymentID == "" {
		return nil, &domain.ValidationError{Field: "gateway_payment_id", Reason: "required"}
	}

	if !VerifyCallback(s.secret, orderID, paymentID, signature) {
		if s.metrics != nil {
			s.metrics.ObserveVerification("webcheckout", false)
		}
		s.logger.Warn("checkout callback signature mismatch", "order_id", orderID)
		return nil, &domain.AuthError{Reason: "callback signature mismatch"}
	}

	intent, err := s.store.GetByGatewayRef(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkPaid(ctx, orderID, paymentID); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveVerification("webcheckout", true)
	}
	return &domain.PaymentProof{
		Method:           domain.MethodWebCheckout,
		Status:           domain.PaymentPaid,
		Gateway:          intent.Gateway,
		GatewayOrderID:   orderID,
		GatewayPaymentID: paymentID,
		AmountCents:      intent.AmountCents,
	}, nil
}

// CreateSheetIntent recomputes the amount and registers a payment intent
// with the native-sheet provider.
func (s *Service) CreateSheetIntent(ctx context.Context, in CreateOrderInput) (*GatewayIntent, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.create_sheet_intent")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.service_id", in.ServiceID.String()))

	svc, err := s.recomputeAmount(ctx, in)
	if err != nil {
		return nil, err
	}
	if s.sheet == nil {
		return nil, &domain.GatewayError{Gateway: "nativesheet", Message: "gateway not configured"}
	}

	receiptID := "rcpt_" + uuid.New().String()
	intent, err := s.sheet.CreateIntent(ctx, receiptID, svc.PriceCents)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.CreateIntent(ctx, Intent{
		UserID:      in.UserID,
		ServiceID:   in.ServiceID,
		Method:      domain.MethodNativeSheet,
		Gateway:     "nativesheet",
		GatewayRef:  intent.IntentID,
		AmountCents: svc.PriceCents,
	}); err != nil {
		return nil, err
	}
	return intent, nil
}

// SheetProof releases the native-sheet payment proof once the provider's
// webhook has confirmed the intent. The sheet result the client reports is
// never trusted on its own: without a stored confirmation this returns
// ErrAwaitingConfirmation.
func (s *Service) SheetProof(ctx context.Context, intentID string) (*domain.PaymentProof, error) {
	if intentID == "" {
		return nil, &domain.ValidationError{Field: "intent_id", Reason: "required"}
	}
	if s.confirmations == nil {
		return nil, ErrAwaitingConfirmation
	}

	conf, ok, err := s.confirmations.Confirmed(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if s.metrics != nil {
			s.metrics.ObserveVerification("nativesheet", false)
		}
		return nil, ErrAwaitingConfirmation
	}

	intent, err := s.store.GetByGatewayRef(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkPaid(ctx, intentID, conf.GatewayPaymentID); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveVerification("nativesheet", true)
	}
	return &domain.PaymentProof{
		Method:           domain.MethodNativeSheet,
		Status:           domain.PaymentPaid,
		Gateway:          intent.Gateway,
		GatewayOrderID:   intentID,
		GatewayPaymentID: conf.GatewayPaymentID,
		AmountCents:      intent.AmountCents,
	}, nil
}
