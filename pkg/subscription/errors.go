package subscription

import "errors"

var (
	ErrNotFound          = errors.New("subscription: not found")
	ErrConflict          = errors.New("subscription: transition conflicts with current status")
	ErrAlreadySubscribed = errors.New("subscription: user already has a live subscription")
	ErrInvalidParams     = errors.New("subscription: invalid parameters")
)
