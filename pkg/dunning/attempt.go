package dunning

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus is the lifecycle state of one scheduled retry.
type AttemptStatus string

const (
	StatusPending   AttemptStatus = "pending"   // scheduled, not yet picked up
	StatusAttempted AttemptStatus = "attempted" // notification dispatched, awaiting charge outcome
	StatusSuccess   AttemptStatus = "success"   // a later payment recovered the episode
	StatusFailed    AttemptStatus = "failed"    // the retry's charge failed
	StatusSkipped   AttemptStatus = "skipped"   // episode closed before this slot ran
)

// Terminal reports whether the attempt can no longer change.
func (s AttemptStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusSkipped
}

// SkipReasonExhausted marks attempts skipped because the episode ran out of
// retries and escalated to cancellation.
const SkipReasonExhausted = "max_attempts_exceeded"

// Attempt is one scheduled or completed retry within a dunning episode.
// AttemptNumber is strictly increasing per episode, 1..MaxAttempts.
type Attempt struct {
	ID             uuid.UUID     `bson:"_id" json:"id"`
	EpisodeID      uuid.UUID     `bson:"episode_id" json:"episode_id"`
	SubscriptionID uuid.UUID     `bson:"subscription_id" json:"subscription_id"`
	UserID         uuid.UUID     `bson:"user_id" json:"user_id"`
	PaymentRef     string        `bson:"payment_ref,omitempty" json:"payment_ref,omitempty"`
	AttemptNumber  int           `bson:"attempt_number" json:"attempt_number"`
	Status         AttemptStatus `bson:"status" json:"status"`
	ScheduledAt    time.Time     `bson:"scheduled_at" json:"scheduled_at"`
	AttemptedAt    *time.Time    `bson:"attempted_at,omitempty" json:"attempted_at,omitempty"`
	ResultStatus   string        `bson:"result_status,omitempty" json:"result_status,omitempty"`
	EmailSent      bool          `bson:"email_sent" json:"email_sent"`
	CreatedAt      time.Time     `bson:"created_at" json:"created_at"`
}

// Stats reports one ProcessDue sweep.
type Stats struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}
