package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultBillingCycle is the recurring period over which usage accumulates
// and a subscription is paid for.
const DefaultBillingCycle = 30 * 24 * time.Hour

// Service exposes the legal lifecycle transitions. Illegal transitions are
// logged as conflicts and reported as ErrConflict; webhook callers treat that
// as a no-op.
type Service struct {
	store Store
	log   *slog.Logger
	clock func() time.Time
	cycle time.Duration
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger used for conflict and transition records.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithBillingCycle overrides the default 30-day cycle.
func WithBillingCycle(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.cycle = d
		}
	}
}

// NewService creates the lifecycle service.
// Panics on nil store to fail fast during initialization.
func NewService(store Store, opts ...Option) *Service {
	if store == nil {
		panic("subscription: Store is required")
	}
	s := &Service{
		store: store,
		log:   slog.Default(),
		clock: func() time.Time { return time.Now().UTC() },
		cycle: DefaultBillingCycle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ActivateParams carries what the first successful payment tells us.
type ActivateParams struct {
	UserID        uuid.UUID
	PlanID        string
	Amount        int64
	Currency      string
	ProviderSubID string
	PaidAt        time.Time // zero means "now"
}

// Activate creates a new active subscription on first successful payment or
// on resubscription after cancel/expiry. A user with a live subscription
// cannot activate a second one.
func (s *Service) Activate(ctx context.Context, p ActivateParams) (*Subscription, error) {
	if p.UserID == uuid.Nil || p.PlanID == "" {
		return nil, fmt.Errorf("%w: user ID and plan ID are required", ErrInvalidParams)
	}

	now := s.clock()
	paidAt := p.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}

	next := paidAt.Add(s.cycle)
	sub := &Subscription{
		ID:            uuid.New(),
		UserID:        p.UserID,
		PlanID:        p.PlanID,
		Status:        StatusActive,
		Currency:      p.Currency,
		Amount:        p.Amount,
		PeriodStart:   paidAt,
		PeriodEnd:     next,
		LastPaymentAt: &paidAt,
		NextBillingAt: &next,
		ProviderSubID: p.ProviderSubID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Create(ctx, sub); err != nil {
		if errors.Is(err, ErrAlreadySubscribed) {
			s.log.InfoContext(ctx, "activation skipped, user already has a live subscription",
				slog.String("user_id", p.UserID.String()))
		}
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription activated",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("user_id", p.UserID.String()),
		slog.String("plan_id", p.PlanID))
	return sub, nil
}

// MarkPastDue moves an active subscription into the grace state after a
// failed payment.
func (s *Service) MarkPastDue(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return s.transition(ctx, id, "mark_past_due",
		[]Status{StatusActive},
		Update{Status: StatusPastDue})
}

// Recover returns a past-due subscription to active after a later successful
// payment tied to the same subscription.
func (s *Service) Recover(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	now := s.clock()
	return s.transition(ctx, id, "recover",
		[]Status{StatusPastDue},
		Update{Status: StatusActive, LastPaymentAt: &now})
}

// Renew extends an active subscription by one billing cycle on a scheduled
// auto-charge success.
func (s *Service) Renew(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	newEnd := sub.PeriodEnd.Add(s.cycle)
	return s.transition(ctx, id, "renew",
		[]Status{StatusActive},
		Update{
			Status:        StatusActive,
			PeriodEnd:     &newEnd,
			LastPaymentAt: &now,
			NextBillingAt: &newEnd,
		})
}

// CancelNow cancels immediately: user-initiated hard cancel or dunning
// exhaustion. The period ends at the moment of cancellation.
func (s *Service) CancelNow(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	now := s.clock()
	return s.transition(ctx, id, "cancel_now",
		[]Status{StatusActive, StatusPastDue, StatusPaused},
		Update{
			Status:     StatusCanceled,
			PeriodEnd:  &now,
			CanceledAt: &now,
		})
}

// CancelAtPeriodEnd flags an active subscription for cancellation at the
// period-end sweep instead of immediately.
func (s *Service) CancelAtPeriodEnd(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	flag := true
	return s.transition(ctx, id, "cancel_at_period_end",
		[]Status{StatusActive},
		Update{Status: StatusActive, CancelAtPeriodEnd: &flag})
}

// Pause suspends an active subscription on a gateway pause event.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return s.transition(ctx, id, "pause",
		[]Status{StatusActive},
		Update{Status: StatusPaused})
}

// Resume reactivates a paused subscription.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return s.transition(ctx, id, "resume",
		[]Status{StatusPaused},
		Update{Status: StatusActive})
}

// Get returns a subscription by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return s.store.Get(ctx, id)
}

// GetLiveByUser returns the user's live subscription.
func (s *Service) GetLiveByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return s.store.GetLiveByUser(ctx, userID)
}

// GetByProviderID resolves a gateway subscription ID.
func (s *Service) GetByProviderID(ctx context.Context, providerSubID string) (*Subscription, error) {
	return s.store.GetByProviderID(ctx, providerSubID)
}

// ExpireDue sweeps live subscriptions whose period ended: flagged ones are
// canceled, the rest expire. Returns how many subscriptions were closed.
// Safe to run repeatedly; each close is a conditional transition.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	now := s.clock()
	due, err := s.store.ListPeriodEnded(ctx, now)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, sub := range due {
		// Paused subscriptions do not expire with the period; resumption or
		// an explicit cancel decides their fate.
		if sub.Status == StatusPaused && !sub.CancelAtPeriodEnd {
			continue
		}
		var terr error
		if sub.CancelAtPeriodEnd {
			_, terr = s.transition(ctx, sub.ID, "cancel_at_period_end_sweep",
				[]Status{StatusActive, StatusPastDue, StatusPaused},
				Update{Status: StatusCanceled, CanceledAt: &now})
		} else {
			_, terr = s.transition(ctx, sub.ID, "expire",
				[]Status{StatusActive, StatusPastDue},
				Update{Status: StatusExpired})
		}
		if terr != nil {
			if errors.Is(terr, ErrConflict) {
				continue // another sweep or webhook got there first
			}
			return closed, terr
		}
		closed++
	}
	return closed, nil
}

// transition runs the conditional update and records conflicts.
func (s *Service) transition(ctx context.Context, id uuid.UUID, name string, expect []Status, upd Update) (*Subscription, error) {
	sub, err := s.store.Transition(ctx, id, expect, upd)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.log.WarnContext(ctx, "subscription transition conflict",
				slog.String("subscription_id", id.String()),
				slog.String("transition", name))
		}
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription transition",
		slog.String("subscription_id", id.String()),
		slog.String("transition", name),
		slog.String("status", string(sub.Status)))
	return sub, nil
}
