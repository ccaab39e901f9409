package dunning

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter narrows admin listings.
type Filter struct {
	SubscriptionID uuid.UUID
	UserID         uuid.UUID
	Status         AttemptStatus
	From           time.Time
	To             time.Time
	Limit          int
	Offset         int
}

// Store defines attempt persistence. Mutations that race the periodic worker
// are conditional writes: an attempt moves out of pending exactly once.
type Store interface {
	// CreateAttempts inserts a batch of scheduled attempts for one episode.
	CreateAttempts(ctx context.Context, attempts []*Attempt) error

	// Get retrieves an attempt by ID.
	Get(ctx context.Context, id uuid.UUID) (*Attempt, error)

	// List returns attempts matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]*Attempt, error)

	// ListOpenBySubscription returns the subscription's pending and attempted
	// rows, ordered by attempt number. Empty means no episode in flight.
	ListOpenBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*Attempt, error)

	// ClaimNextDue atomically flips the oldest pending attempt with
	// scheduled_at <= now to attempted, stamping attempted_at. Returns
	// ErrNoAttemptsDue when nothing qualifies. Two concurrent callers never
	// receive the same attempt.
	ClaimNextDue(ctx context.Context, now time.Time) (*Attempt, error)

	// SetEmailSent records that the recovery notification went out.
	SetEmailSent(ctx context.Context, id uuid.UUID) error

	// FailOldestAttempted resolves the episode's oldest attempted row to
	// failed with the given result status. Returns false when no attempted
	// row exists.
	FailOldestAttempted(ctx context.Context, subscriptionID uuid.UUID, resultStatus string) (bool, error)

	// CloseEpisodeSuccess marks every open attempt of the subscription's
	// episode as success. Returns how many rows closed.
	CloseEpisodeSuccess(ctx context.Context, subscriptionID uuid.UUID, paymentRef string) (int, error)

	// SkipPending marks every pending attempt of the subscription's episode
	// as skipped with the given reason. Returns how many rows were skipped.
	SkipPending(ctx context.Context, subscriptionID uuid.UUID, reason string) (int, error)
}
