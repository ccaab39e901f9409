package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Handler processes one claimed event. Returning an error marks the event
// failed; wrap transient causes with Retryable so the boundary answers 5xx
// and the gateway redelivers.
type Handler func(ctx context.Context, ev *Event) error

// Processor dispatches inbound gateway events to registered handlers with
// at-most-once semantics per event_id.
type Processor struct {
	store       Store
	handlers    map[string]Handler
	log         *slog.Logger
	clock       func() time.Time
	maxAttempts int
}

// ProcessorOption configures the Processor.
type ProcessorOption func(*Processor)

// WithLogger sets the processor's logger.
func WithLogger(log *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if log != nil {
			p.log = log
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(clock func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithMaxAttempts caps recorded processing attempts per event (informational
// for the admin surface; the gateway's own redelivery policy drives retries).
func WithMaxAttempts(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// NewProcessor creates an event processor.
// Panics on nil store to fail fast during initialization.
func NewProcessor(store Store, opts ...ProcessorOption) *Processor {
	if store == nil {
		panic("webhook: Store is required")
	}
	p := &Processor{
		store:       store,
		handlers:    make(map[string]Handler),
		log:         slog.Default(),
		clock:       func() time.Time { return time.Now().UTC() },
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterHandler binds a handler to an event type. Register all handlers at
// startup only; the map is not guarded for concurrent mutation.
func (p *Processor) RegisterHandler(eventType string, h Handler) {
	if eventType == "" || h == nil {
		panic("webhook: event type and handler are required")
	}
	p.handlers[eventType] = h
}

// IngestInput is one raw gateway delivery.
type IngestInput struct {
	EventID   string
	EventType string
	Payload   []byte
	Source    Source
}

// Ingest processes one delivery with at-most-once semantics.
//
// Duplicates of a processed event return Result.Idempotent without running
// any handler. Concurrent duplicate deliveries resolve through the store's
// atomic claim: exactly one caller acquires it, the others report InFlight.
// Handler failures mark the event failed and keep it claimable, so gateway
// redelivery or an admin retry re-runs it safely.
func (p *Processor) Ingest(ctx context.Context, in IngestInput) (Result, error) {
	if in.EventID == "" || in.EventType == "" {
		return Result{}, fmt.Errorf("%w: event ID and type are required", ErrInvalidInput)
	}

	ev := &Event{
		ID:          uuid.New(),
		EventID:     in.EventID,
		EventType:   in.EventType,
		Payload:     in.Payload,
		Status:      StatusProcessing,
		MaxAttempts: p.maxAttempts,
		Source:      in.Source,
		CreatedAt:   p.clock(),
	}

	current, acquired, err := p.store.ClaimForProcessing(ctx, ev)
	if err != nil {
		return Result{}, Retryable(err)
	}

	if !acquired {
		switch current.Status {
		case StatusProcessed:
			p.log.InfoContext(ctx, "duplicate webhook event short-circuited",
				slog.String("event_id", in.EventID),
				slog.String("event_type", in.EventType))
			return Result{EventID: in.EventID, Status: StatusProcessed, Idempotent: true}, nil
		default:
			p.log.InfoContext(ctx, "webhook event already in flight",
				slog.String("event_id", in.EventID))
			return Result{EventID: in.EventID, Status: current.Status, InFlight: true}, nil
		}
	}

	handler, ok := p.handlers[in.EventType]
	if !ok {
		// Unknown types are acknowledged as no-ops so the gateway stops
		// redelivering them.
		p.log.WarnContext(ctx, "no handler for webhook event type, marking processed",
			slog.String("event_id", in.EventID),
			slog.String("event_type", in.EventType))
		if err := p.store.MarkProcessed(ctx, in.EventID, p.clock()); err != nil {
			return Result{}, Retryable(err)
		}
		return Result{EventID: in.EventID, Status: StatusProcessed, Unhandled: true}, nil
	}

	if herr := handler(ctx, current); herr != nil {
		if merr := p.store.MarkFailed(ctx, in.EventID, herr.Error()); merr != nil {
			p.log.ErrorContext(ctx, "failed to record webhook handler failure",
				slog.String("event_id", in.EventID),
				slog.String("error", merr.Error()))
		}
		p.log.ErrorContext(ctx, "webhook handler failed",
			slog.String("event_id", in.EventID),
			slog.String("event_type", in.EventType),
			slog.String("error", herr.Error()))
		return Result{EventID: in.EventID, Status: StatusFailed},
			fmt.Errorf("%w: %s: %w", ErrEventFailed, in.EventType, herr)
	}

	if err := p.store.MarkProcessed(ctx, in.EventID, p.clock()); err != nil {
		// The side effects ran; losing the final status write would allow a
		// re-run, so surface it as retryable and let the redelivery hit the
		// processed short-circuit once the write eventually lands.
		return Result{}, Retryable(err)
	}

	return Result{EventID: in.EventID, Status: StatusProcessed}, nil
}

// Retry re-ingests a previously failed event using its stored payload.
// Intended for the admin surface.
func (p *Processor) Retry(ctx context.Context, eventID string) (Result, error) {
	ev, err := p.store.Get(ctx, eventID)
	if err != nil {
		return Result{}, err
	}
	return p.Ingest(ctx, IngestInput{
		EventID:   ev.EventID,
		EventType: ev.EventType,
		Payload:   ev.Payload,
		Source:    ev.Source,
	})
}

// Get returns a stored event by gateway event ID.
func (p *Processor) Get(ctx context.Context, eventID string) (*Event, error) {
	return p.store.Get(ctx, eventID)
}

// List returns stored events for the admin surface.
func (p *Processor) List(ctx context.Context, f Filter) ([]*Event, error) {
	return p.store.List(ctx, f)
}
