package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/calmora/clinic-booking/pkg/logging"
)

// paidMarker records intent status transitions driven by webhook events.
type paidMarker interface {
	MarkPaid(ctx context.Context, gatewayRef, gatewayPaymentID string) error
	MarkFailed(ctx context.Context, gatewayRef string) error
}

// processedTracker deduplicates gateway events by id.
type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) error
}

// WebhookMetrics records webhook handling latency. Optional.
type WebhookMetrics interface {
	ObserveWebhook(eventType string, duration time.Duration)
}

// WebhookHandler processes the payment provider's asynchronous
// notifications. Events are signature-checked and processed at most once
// per event id; a replayed event acknowledges without re-applying.
type WebhookHandler struct {
	secret        string
	store         paidMarker
	processed     processedTracker
	confirmations *SheetConfirmations
	metrics       WebhookMetrics
	logger        *logging.Logger
}

// NewWebhookHandler creates the handler. secret signs the webhook payloads.
func NewWebhookHandler(secret string, store paidMarker, processed processedTracker, confirmations *SheetConfirmations, logger *logging.Logger) *WebhookHandler {
	if store == nil {
		panic("payments: intent store required")
	}
	if processed == nil {
		panic("payments: processed tracker required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		secret:        secret,
		store:         store,
		processed:     processed,
		confirmations: confirmations,
		logger:        logger,
	}
}

// WithMetrics attaches webhook metrics.
func (h *WebhookHandler) WithMetrics(m WebhookMetrics) *WebhookHandler {
	h.metrics = m
	return h
}

// gatewayWebhookEvent is the provider's event envelope.
type gatewayWebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			OrderID     string `json:"order_id"`
			IntentID    string `json:"intent_id"`
			PaymentID   string `json:"payment_id"`
			AmountCents int64  `json:"amount"`
		} `json:"object"`
	} `json:"data"`
}

// Handle processes an incoming gateway webhook.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if !verifyWebhookSignature(h.secret, payload, r.Header.Get("Gateway-Signature")) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var evt gatewayWebhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("failed to decode gateway event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if evt.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	if done, err := h.processed.AlreadyProcessed(r.Context(), "gateway", evt.ID); err != nil {
		h.logger.Error("processed lookup failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	} else if done {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.apply(r.Context(), evt); err != nil {
		h.logger.Error("webhook event apply failed", "error", err, "event_id", evt.ID, "type", evt.Type)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if err := h.processed.MarkProcessed(r.Context(), "gateway", evt.ID); err != nil {
		h.logger.Error("failed to record processed event", "error", err, "event_id", evt.ID)
	}
	if h.metrics != nil {
		h.metrics.ObserveWebhook(evt.Type, time.Since(start))
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) apply(ctx context.Context, evt gatewayWebhookEvent) error {
	obj := evt.Data.Object
	switch evt.Type {
	case "checkout.payment.captured":
		if obj.OrderID == "" {
			return fmt.Errorf("payments: event %s missing order_id", evt.ID)
		}
		return h.store.MarkPaid(ctx, obj.OrderID, obj.PaymentID)

	case "sheet.payment.confirmed":
		if obj.IntentID == "" {
			return fmt.Errorf("payments: event %s missing intent_id", evt.ID)
		}
		if h.confirmations != nil {
			if err := h.confirmations.Confirm(ctx, SheetConfirmation{
				IntentID:         obj.IntentID,
				GatewayPaymentID: obj.PaymentID,
				AmountCents:      obj.AmountCents,
			}); err != nil {
				return err
			}
		}
		return h.store.MarkPaid(ctx, obj.IntentID, obj.PaymentID)

	case "payment.failed":
		ref := obj.OrderID
		if ref == "" {
			ref = obj.IntentID
		}
		if ref == "" {
			return fmt.Errorf("payments: event %s missing reference", evt.ID)
		}
		return h.store.MarkFailed(ctx, ref)

	default:
		h.logger.Info("ignoring gateway event", "type", evt.Type, "event_id", evt.ID)
		return nil
	}
}

// verifyWebhookSignature checks the Gateway-Signature header, formatted as
// t=<unix>,v1=<hex hmac> with the HMAC-SHA256 computed over
// "<timestamp>.<payload>". Timestamps older than five minutes are rejected.
func verifyWebhookSignature(secret string, payload []byte, header string) bool {
	if secret == "" {
		return true // bypass for development
	}
	if header == "" {
		return false
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if abs64(time.Now().Unix()-ts) > 300 {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	expected := hex.EncodeToString(mac.Sum(nil))
	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return true
		}
	}
	return false
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
