package webhook

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the processing state of an inbound event.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// Source carries delivery metadata kept for audit.
type Source struct {
	Gateway  string `bson:"gateway" json:"gateway"`
	RemoteIP string `bson:"remote_ip,omitempty" json:"remote_ip,omitempty"`
}

// Event is one record per inbound gateway notification. EventID is the
// gateway-assigned identifier and is globally unique; a second delivery of
// the same EventID must not re-execute side effects once the record reached
// StatusProcessed.
type Event struct {
	ID          uuid.UUID  `bson:"_id" json:"id"`
	EventID     string     `bson:"event_id" json:"event_id"`
	EventType   string     `bson:"event_type" json:"event_type"`
	Payload     []byte     `bson:"payload" json:"payload,omitempty"`
	Status      Status     `bson:"status" json:"status"`
	Attempts    int        `bson:"attempts" json:"attempts"`
	MaxAttempts int        `bson:"max_attempts" json:"max_attempts"`
	Error       string     `bson:"error,omitempty" json:"error,omitempty"`
	Source      Source     `bson:"source" json:"source"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	ClaimedAt   *time.Time `bson:"claimed_at,omitempty" json:"claimed_at,omitempty"`
	ProcessedAt *time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}

// Result reports the outcome of one Ingest call.
type Result struct {
	EventID    string `json:"event_id"`
	Status     Status `json:"status"`
	Idempotent bool   `json:"idempotent,omitempty"` // duplicate of a processed event, no side effects ran
	InFlight   bool   `json:"in_flight,omitempty"`  // another delivery holds the processing claim
	Unhandled  bool   `json:"unhandled,omitempty"`  // no handler for the event type, marked processed as no-op
}
