package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a subscription.
type Status string

const (
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
	StatusPaused   Status = "paused"
)

// Live reports whether the subscription still represents a billing
// relationship. At most one subscription per user may be live.
func (s Status) Live() bool {
	switch s {
	case StatusActive, StatusPastDue, StatusPaused:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusExpired
}

// Subscription is one active-or-historical billing relationship per user.
type Subscription struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	PlanID            string
	Status            Status
	Currency          string // ISO 4217
	Amount            int64  // smallest currency unit per cycle
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
	LastPaymentAt     *time.Time
	NextBillingAt     *time.Time
	ProviderSubID     string // gateway subscription ID, empty for free plans
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsActive returns true if the subscription is in good standing.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// IsPastDue returns true if a failed payment put the subscription in grace.
func (s *Subscription) IsPastDue() bool {
	return s.Status == StatusPastDue
}

// PeriodExpired reports whether the paid-for period is over at the given time.
func (s *Subscription) PeriodExpired(now time.Time) bool {
	return !s.PeriodEnd.After(now)
}
