package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/pkg/logging"
)

var paymentsTracer = otel.Tracer("clinic.internal.payments")

// WebCheckoutGateway is a hand-rolled client for the hosted web-checkout
// provider's orders API. The provider redirects the patient to a hosted page
// and reports the result back through a signed callback plus a webhook.
type WebCheckoutGateway struct {
	baseURL    string
	keyID      string
	secret     string
	successURL string
	cancelURL  string
	httpClient *http.Client
	logger     *logging.Logger
}

// GatewayOrder is the provider's order record for one checkout attempt.
type GatewayOrder struct {
	OrderID     string `json:"id"`
	AmountCents int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
}

// NewWebCheckoutGateway creates the orders client.
func NewWebCheckoutGateway(baseURL, keyID, secret string, logger *logging.Logger) *WebCheckoutGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebCheckoutGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		keyID:      keyID,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// WithBaseURL overrides the provider API base URL (for testing).
func (g *WebCheckoutGateway) WithBaseURL(baseURL string) *WebCheckoutGateway {
	if baseURL != "" {
		g.baseURL = strings.TrimRight(baseURL, "/")
	}
	return g
}

// WithReturnURLs sets the hosted-page redirect targets registered with each
// order. Empty values are omitted from the order request.
func (g *WebCheckoutGateway) WithReturnURLs(success, cancel string) *WebCheckoutGateway {
	g.successURL = success
	g.cancelURL = cancel
	return g
}

// WithHTTPClient overrides the underlying HTTP client.
func (g *WebCheckoutGateway) WithHTTPClient(c *http.Client) *WebCheckoutGateway {
	if c != nil {
		g.httpClient = c
	}
	return g
}

type createOrderRequest struct {
	AmountCents int64  `json:"amount"`
	Currency    string `json:"currency"`
	ReceiptID   string `json:"receipt"`
	Description string `json:"description,omitempty"`
	SuccessURL  string `json:"success_url,omitempty"`
	CancelURL   string `json:"cancel_url,omitempty"`
}

// CreateOrder registers an order with the provider. Callers must have
// recomputed the amount from the catalog before reaching this point; the
// client itself performs no price checks.
func (g *WebCheckoutGateway) CreateOrder(ctx context.Context, receiptID, description string, amountCents int64) (*GatewayOrder, error) {
	ctx, span := paymentsTracer.Start(ctx, "webcheckout.create_order")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.receipt_id", receiptID),
		attribute.Int("clinic.amount_cents", int(amountCents)),
	)

	body, err := json.Marshal(createOrderRequest{
		AmountCents: amountCents,
		Currency:    "INR",
		ReceiptID:   receiptID,
		Description: description,
		SuccessURL:  g.successURL,
		CancelURL:   g.cancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("payments: encode order request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("payments: build order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.keyID, g.secret)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &domain.NetworkError{Op: "webcheckout create order", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.NetworkError{Op: "webcheckout read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.logger.Error("web checkout order creation failed",
			"status", resp.StatusCode, "receipt_id", receiptID, "body", truncate(string(respBody), 512))
		return nil, &domain.GatewayError{
			Gateway: "webcheckout",
			Message: fmt.Sprintf("order creation returned status %d", resp.StatusCode),
		}
	}

	var order GatewayOrder
	if err := json.Unmarshal(respBody, &order); err != nil {
		return nil, fmt.Errorf("payments: decode order response: %w", err)
	}
	if order.OrderID == "" {
		return nil, &domain.GatewayError{Gateway: "webcheckout", Message: "order response missing id"}
	}

	g.logger.Info("web checkout order created", "order_id", order.OrderID, "amount_cents", order.AmountCents)
	return &order, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
