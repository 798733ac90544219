package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/calmora/clinic-booking/internal/domain"
	"github.com/calmora/clinic-booking/pkg/logging"
)

// NativeSheetGateway is the client for the native payment-sheet provider's
// intents API. The sheet itself runs inside the patient's app; this server
// only creates the intent and later receives the provider's webhook.
type NativeSheetGateway struct {
	baseURL    string
	keyID      string
	secret     string
	httpClient *http.Client
	logger     *logging.Logger
}

// GatewayIntent is the provider's payment-intent record. ClientSecret is
// handed to the app to initialize the sheet.
type GatewayIntent struct {
	IntentID     string `json:"id"`
	ClientSecret string `json:"client_secret"`
	AmountCents  int64  `json:"amount"`
	Status       string `json:"status"`
}

// NewNativeSheetGateway creates the intents client.
func NewNativeSheetGateway(baseURL, keyID, secret string, logger *logging.Logger) *NativeSheetGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &NativeSheetGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		keyID:      keyID,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// WithBaseURL overrides the provider API base URL (for testing).
func (g *NativeSheetGateway) WithBaseURL(baseURL string) *NativeSheetGateway {
	if baseURL != "" {
		g.baseURL = strings.TrimRight(baseURL, "/")
	}
	return g
}

type createIntentRequest struct {
	AmountCents int64  `json:"amount"`
	Currency    string `json:"currency"`
	ReceiptID   string `json:"receipt"`
}

// CreateIntent registers a payment intent with the provider.
func (g *NativeSheetGateway) CreateIntent(ctx context.Context, receiptID string, amountCents int64) (*GatewayIntent, error) {
	ctx, span := paymentsTracer.Start(ctx, "nativesheet.create_intent")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.receipt_id", receiptID),
		attribute.Int("clinic.amount_cents", int(amountCents)),
	)

	body, err := json.Marshal(createIntentRequest{
		AmountCents: amountCents,
		Currency:    "INR",
		ReceiptID:   receiptID,
	})
	if err != nil {
		return nil, fmt.Errorf("payments: encode intent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/payment_intents", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("payments: build intent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.keyID, g.secret)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &domain.NetworkError{Op: "nativesheet create intent", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.NetworkError{Op: "nativesheet read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.logger.Error("native sheet intent creation failed",
			"status", resp.StatusCode, "receipt_id", receiptID, "body", truncate(string(respBody), 512))
		return nil, &domain.GatewayError{
			Gateway: "nativesheet",
			Message: fmt.Sprintf("intent creation returned status %d", resp.StatusCode),
		}
	}

	var intent GatewayIntent
	if err := json.Unmarshal(respBody, &intent); err != nil {
		return nil, fmt.Errorf("payments: decode intent response: %w", err)
	}
	if intent.IntentID == "" {
		return nil, &domain.GatewayError{Gateway: "nativesheet", Message: "intent response missing id"}
	}

	g.logger.Info("native sheet intent created", "intent_id", intent.IntentID, "amount_cents", intent.AmountCents)
	return &intent, nil
}

// SheetConfirmation is the server-side record that the provider confirmed a
// native-sheet payment. The client-reported sheet result alone never
// releases a proof; only a stored confirmation does.
type SheetConfirmation struct {
	IntentID         string `json:"intent_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	AmountCents      int64  `json:"amount_cents"`
}

// SheetConfirmations tracks pending native-sheet confirmations in redis with
// a TTL. An intent the provider never confirms simply expires.
type SheetConfirmations struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewSheetConfirmations creates the tracker.
func NewSheetConfirmations(client *redis.Client, ttl time.Duration, logger *logging.Logger) *SheetConfirmations {
	if client == nil {
		panic("payments: redis client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SheetConfirmations{client: client, ttl: ttl, logger: logger}
}

func confirmKey(intentID string) string {
	return "payments:sheet:confirm:" + intentID
}

// Confirm records the provider's confirmation for an intent. Called from the
// gateway webhook handler, never from a client-facing path.
func (s *SheetConfirmations) Confirm(ctx context.Context, conf SheetConfirmation) error {
	raw, err := json.Marshal(conf)
	if err != nil {
		return fmt.Errorf("payments: encode confirmation: %w", err)
	}
	if err := s.client.Set(ctx, confirmKey(conf.IntentID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("payments: store confirmation: %w", err)
	}
	s.logger.Info("native sheet payment confirmed", "intent_id", conf.IntentID, "amount_cents", conf.AmountCents)
	return nil
}

// Confirmed returns the stored confirmation for an intent, or ok=false when
// the provider has not confirmed it (or the confirmation expired).
func (s *SheetConfirmations) Confirmed(ctx context.Context, intentID string) (*SheetConfirmation, bool, error) {
	raw, err := s.client.Get(ctx, confirmKey(intentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("payments: load confirmation: %w", err)
	}
	var conf SheetConfirmation
	if err := json.Unmarshal(raw, &conf); err != nil {
		return nil, false, fmt.Errorf("payments: decode confirmation: %w", err)
	}
	return &conf, true, nil
}
