package gateway

import "errors"

var (
	ErrInvalidSignature = errors.New("gateway: invalid webhook signature")
	ErrInvalidPayload   = errors.New("gateway: invalid webhook payload")
	ErrPaymentNotFound  = errors.New("gateway: payment not found")
	ErrProviderError    = errors.New("gateway: provider error")
	ErrInvalidConfig    = errors.New("gateway: invalid config")
)
