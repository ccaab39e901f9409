package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HMACVerifier implements the order/payment signature scheme used by
// Razorpay-style gateways: HMAC-SHA256(secret, orderID + "|" + paymentID),
// hex encoded. Comparison is constant-time.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier with the shared gateway secret.
// Panics on empty secret to fail fast during initialization.
func NewHMACVerifier(secret string) *HMACVerifier {
	if secret == "" {
		panic("gateway: signature secret is required")
	}
	return &HMACVerifier{secret: []byte(secret)}
}

// Sign computes the expected signature for an order/payment pair.
func (v *HMACVerifier) Sign(orderID, paymentID string) string {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether the given signature matches the order/payment pair.
func (v *HMACVerifier) Verify(orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	expected := v.Sign(orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}
