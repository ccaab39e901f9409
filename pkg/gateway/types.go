package gateway

import "time"

// EventType is the normalized billing event type. Each gateway adapter maps
// its provider-specific event names onto these.
type EventType string

const (
	EventPaymentSucceeded     EventType = "payment_succeeded"
	EventPaymentFailed        EventType = "payment_failed"
	EventSubscriptionRenewed  EventType = "subscription_renewed"
	EventSubscriptionCanceled EventType = "subscription_canceled"
	EventSubscriptionPaused   EventType = "subscription_paused"
	EventSubscriptionResumed  EventType = "subscription_resumed"
	EventUnknown              EventType = "unknown"
)

// Event is a normalized gateway notification. Only the fields the billing
// core needs for idempotency and outcome classification are extracted; the
// full provider payload travels alongside in Raw for audit.
type Event struct {
	EventID        string         // gateway-assigned, globally unique
	Type           EventType      // normalized event type
	ProviderEvent  string         // original provider event name
	SubscriptionID string         // provider's subscription ID
	UserID         string         // our user ID from metadata
	PaymentID      string         // provider's payment/transaction ID
	OrderID        string         // provider's order ID, if any
	Amount         int64          // smallest currency unit
	Currency       string         // ISO 4217
	Status         string         // provider-reported status
	OccurredAt     time.Time      // provider timestamp
	Raw            map[string]any // full webhook data
}

// PaymentDetails describes an already-settled payment, fetched to classify a
// received webhook.
type PaymentDetails struct {
	PaymentID string
	Method    string
	Status    string
	Amount    int64
	Currency  string
}

// PaymentIntentRequest asks the gateway to open a new payment attempt for a
// dunning recovery. The actual charge outcome comes back later as a webhook.
type PaymentIntentRequest struct {
	PriceID    string // provider's price/plan identifier
	CustomerID string // our internal user ID
	Email      string // optional billing email
}

// PaymentIntent is the gateway's handle for a recovery charge attempt.
type PaymentIntent struct {
	ID          string
	CheckoutURL string
	ExpiresAt   time.Time
}
