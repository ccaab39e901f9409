package entitlement

import "errors"

var (
	ErrAddonNotFound       = errors.New("entitlement: addon not found")
	ErrUsageNotFound       = errors.New("entitlement: usage record not found")
	ErrMaxQuantityExceeded = errors.New("entitlement: addon max quantity exceeded")
	ErrIncompatiblePlan    = errors.New("entitlement: addon not compatible with plan")
	ErrInvalidParams       = errors.New("entitlement: invalid parameters")
)
