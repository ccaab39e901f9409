package webhook

import (
	"context"
	"time"
)

// Filter narrows admin listings of events.
type Filter struct {
	Status    Status
	EventType string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// StaleClaimAfter is how long a processing claim may be held before another
// delivery can take it over. Covers crashes between the claim and the final
// status write.
const StaleClaimAfter = 5 * time.Minute

// Store defines event persistence.
//
// ClaimForProcessing must be a single atomic create-or-claim: insert the
// event as processing when unseen, or flip an existing pending/failed (or
// stale processing) record to processing. It must never be a read-then-write
// pair — the unique event_id constraint plus a conditional update is what
// rules out the TOCTOU double-execution under concurrent duplicate
// deliveries.
type Store interface {
	// ClaimForProcessing returns the current record and whether this caller
	// acquired the processing claim. acquired=false with StatusProcessed
	// means the event was already handled; with StatusProcessing it means
	// another delivery is handling it right now.
	ClaimForProcessing(ctx context.Context, ev *Event) (current *Event, acquired bool, err error)

	// MarkProcessed finalizes a claimed event.
	MarkProcessed(ctx context.Context, eventID string, at time.Time) error

	// MarkFailed records a handler failure and increments the attempt count.
	MarkFailed(ctx context.Context, eventID string, errMsg string) error

	// Get retrieves an event by gateway event ID.
	Get(ctx context.Context, eventID string) (*Event, error)

	// List returns events matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]*Event, error)
}
