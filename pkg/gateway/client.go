package gateway

import "context"

// Client is the outbound gateway collaborator used by the billing core.
//
// VerifySignature classifies a webhook delivery as authentic; it never
// performs network I/O. FetchPaymentDetails and CreatePaymentIntent do call
// the provider and must be given contexts with bounded timeouts by callers.
type Client interface {
	// VerifySignature checks the signature of a payment callback against the
	// order and payment identifiers it covers.
	VerifySignature(orderID, paymentID, signature string) bool

	// FetchPaymentDetails retrieves method/status/amount for an already
	// received payment notification.
	FetchPaymentDetails(ctx context.Context, paymentID string) (PaymentDetails, error)

	// CreatePaymentIntent opens a fresh payment attempt for a dunning
	// recovery. The charge outcome arrives later via webhook.
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error)
}

// Parser validates and normalizes a raw webhook delivery.
// Implementations must verify the signature before trusting any field.
type Parser interface {
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)
}
