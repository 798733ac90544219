package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignCallback computes the HMAC-SHA256 hex signature over
// "gateway_order_id|gateway_payment_id" with the server-held secret. The
// secret never reaches a client; only the gateway and this server can
// produce a valid signature.
func SignCallback(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallback reports whether signature matches the expected HMAC for the
// order/payment pair. Comparison is constant time.
func VerifyCallback(secret, orderID, paymentID, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := SignCallback(secret, orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}
