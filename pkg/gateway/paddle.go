package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds configuration for the Paddle gateway adapter.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleGateway implements Client and Parser on top of the official Paddle SDK.
type PaddleGateway struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	hmac     *HMACVerifier
	config   PaddleConfig
}

// NewPaddleGateway creates a Paddle-backed gateway adapter.
func NewPaddleGateway(cfg PaddleConfig) (*PaddleGateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: paddle API key is required", ErrInvalidConfig)
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: paddle webhook secret is required", ErrInvalidConfig)
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: invalid paddle environment: %s", ErrInvalidConfig, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleGateway{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
		hmac:     NewHMACVerifier(cfg.WebhookSecret),
		config:   cfg,
	}, nil
}

// VerifySignature checks an order/payment signature pair using the shared
// webhook secret. Used for gateways that sign callback parameters rather
// than the whole body.
func (p *PaddleGateway) VerifySignature(orderID, paymentID, signature string) bool {
	return p.hmac.Verify(orderID, paymentID, signature)
}

// FetchPaymentDetails loads a transaction from Paddle to classify an already
// received webhook. Never used for polling.
func (p *PaddleGateway) FetchPaymentDetails(ctx context.Context, paymentID string) (PaymentDetails, error) {
	txn, err := p.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{
		TransactionID: paymentID,
	})
	if err != nil {
		return PaymentDetails{}, errors.Join(ErrProviderError, err)
	}

	details := PaymentDetails{
		PaymentID: txn.ID,
		Status:    string(txn.Status),
		Currency:  string(txn.CurrencyCode),
	}

	// Paddle reports totals as strings in the smallest currency unit.
	if txn.Details.Totals.Total != "" {
		if amount, err := strconv.ParseInt(txn.Details.Totals.Total, 10, 64); err == nil {
			details.Amount = amount
		}
	}

	return details, nil
}

// CreatePaymentIntent opens a fresh Paddle transaction for a dunning
// recovery attempt. The customer completes it via the returned checkout URL;
// the outcome closes the loop through a later webhook.
func (p *PaddleGateway) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error) {
	if req.PriceID == "" {
		return PaymentIntent{}, fmt.Errorf("%w: price ID is required", ErrInvalidConfig)
	}
	if req.CustomerID == "" {
		return PaymentIntent{}, fmt.Errorf("%w: customer ID is required", ErrInvalidConfig)
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"customer_id": req.CustomerID,
		},
	}
	if req.Email != "" {
		transactionReq.CustomData["email"] = req.Email
	}

	txn, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return PaymentIntent{}, errors.Join(ErrProviderError, err)
	}

	intent := PaymentIntent{
		ID:        txn.ID,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	if txn.Checkout != nil && txn.Checkout.URL != nil {
		intent.CheckoutURL = *txn.Checkout.URL
	}

	return intent, nil
}

// ParseWebhook validates the Paddle signature and normalizes the payload into
// a gateway Event.
func (p *PaddleGateway) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	if !valid {
		return nil, ErrInvalidSignature
	}

	var paddleEvent struct {
		EventID    string         `json:"event_id"`
		EventType  string         `json:"event_type"`
		OccurredAt string         `json:"occurred_at"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &paddleEvent); err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}

	event := &Event{
		EventID:       paddleEvent.EventID,
		Type:          mapPaddleEventType(paddleEvent.EventType),
		ProviderEvent: paddleEvent.EventType,
		Raw:           paddleEvent.Data,
	}
	if ts, err := time.Parse(time.RFC3339, paddleEvent.OccurredAt); err == nil {
		event.OccurredAt = ts
	}

	if status, ok := paddleEvent.Data["status"].(string); ok {
		event.Status = status
	}
	if customData, ok := paddleEvent.Data["custom_data"].(map[string]any); ok {
		if userID, ok := customData["customer_id"].(string); ok {
			event.UserID = userID
		}
	}

	// Subscription events carry the subscription ID as the object ID;
	// transaction events carry their own ID plus an optional subscription link.
	switch {
	case strings.HasPrefix(paddleEvent.EventType, "subscription."):
		if subID, ok := paddleEvent.Data["id"].(string); ok {
			event.SubscriptionID = subID
		}
	case strings.HasPrefix(paddleEvent.EventType, "transaction."):
		if txnID, ok := paddleEvent.Data["id"].(string); ok {
			event.PaymentID = txnID
		}
		if subID, ok := paddleEvent.Data["subscription_id"].(string); ok {
			event.SubscriptionID = subID
		}
	}

	return event, nil
}

// mapPaddleEventType maps Paddle event names onto normalized types.
func mapPaddleEventType(providerEvent string) EventType {
	switch providerEvent {
	case "transaction.completed", "transaction.paid":
		return EventPaymentSucceeded
	case "transaction.payment_failed":
		return EventPaymentFailed
	case "subscription.updated", "subscription.past_due":
		return EventSubscriptionRenewed
	case "subscription.canceled":
		return EventSubscriptionCanceled
	case "subscription.paused":
		return EventSubscriptionPaused
	case "subscription.resumed":
		return EventSubscriptionResumed
	default:
		return EventUnknown
	}
}
