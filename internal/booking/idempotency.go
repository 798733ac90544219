package booking

import (
	"strings"

	"github.com/google/uuid"
)

// KeyFactory produces the key that identifies one logical booking attempt.
//
// Gateway-mediated payments derive the key from the gateway's own order id:
// the gateway can deliver duplicate success callbacks, and a deterministic
// key makes the second callback resolve to the same appointment instead of
// creating a duplicate. Non-gateway flows get a fresh random key per attempt;
// the in-flight guard suppresses double-taps for those (see AttemptGuard).
type KeyFactory struct{}

// ForGatewayOrder returns the deterministic key for a gateway order id.
func (KeyFactory) ForGatewayOrder(gatewayOrderID string) string {
	return "gw_" + strings.TrimSpace(gatewayOrderID)
}

// NewAttemptKey returns a fresh random key for a non-gateway attempt.
func (KeyFactory) NewAttemptKey() string {
	return "bk_" + uuid.NewString()
}
