package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Update describes the field changes a transition applies alongside the
// status change. Nil pointer fields are left untouched, letting the store
// express the whole transition as one conditional write.
type Update struct {
	Status            Status
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd *bool
	CanceledAt        *time.Time
	LastPaymentAt     *time.Time
	NextBillingAt     *time.Time
}

// Store defines subscription persistence.
//
// Transition must be a single atomic conditional write: update the row only
// if its current status is one of expect, otherwise return ErrConflict
// without modifying anything. This is the mechanism that makes concurrent
// webhook deliveries resolve deterministically.
type Store interface {
	// Create inserts a new subscription. Returns ErrAlreadySubscribed when
	// the user already has a live (active/past_due/paused) subscription.
	Create(ctx context.Context, sub *Subscription) error

	// Get retrieves a subscription by ID. Returns ErrNotFound if missing.
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// GetLiveByUser returns the user's live subscription, ErrNotFound if none.
	GetLiveByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// GetByProviderID resolves a gateway subscription ID to ours.
	GetByProviderID(ctx context.Context, providerSubID string) (*Subscription, error)

	// Transition applies upd only if the current status is in expect.
	// Returns the updated subscription, or ErrConflict / ErrNotFound.
	Transition(ctx context.Context, id uuid.UUID, expect []Status, upd Update) (*Subscription, error)

	// ListPeriodEnded returns live subscriptions whose period_end is at or
	// before the given time, for the expiry sweep.
	ListPeriodEnded(ctx context.Context, before time.Time) ([]*Subscription, error)
}
