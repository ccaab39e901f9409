package dunning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// outwardTimeout bounds the gateway and notification calls so a slow
// collaborator cannot stall the sweep. The attempt stays attempted either
// way; the schedule advances regardless of delivery.
const outwardTimeout = 15 * time.Second

// SubscriptionLifecycle is the slice of the subscription service the
// scheduler drives: recovery on payment success, cancellation on exhaustion.
type SubscriptionLifecycle interface {
	Recover(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error)
	CancelNow(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error)
}

// EntitlementReverter downgrades a user's entitlements to the free plan when
// an episode exhausts.
type EntitlementReverter interface {
	RevertToFree(ctx context.Context, userID uuid.UUID) (int, error)
}

// Notifier dispatches the recovery notice for a claimed attempt. payLink may
// be empty when no payment intent could be opened.
type Notifier interface {
	SendRecoveryNotice(ctx context.Context, attempt *Attempt, payLink string) error
}

// IntentCreator opens a fresh payment attempt at the gateway for a claimed
// dunning attempt; the charge outcome arrives later as a webhook.
// Implementations resolve the user's price/plan before calling the provider.
type IntentCreator interface {
	CreateRecoveryIntent(ctx context.Context, attempt *Attempt) (gateway.PaymentIntent, error)
}

// Scheduler owns dunning episodes end to end: opening them on payment
// failure, executing due attempts, closing them on recovery, and escalating
// on exhaustion.
type Scheduler struct {
	store    Store
	subs     SubscriptionLifecycle
	reverter EntitlementReverter
	notifier Notifier
	intents  IntentCreator
	log      *slog.Logger
	clock    func() time.Time
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger for episode and sweep records.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithNotifier wires the recovery-email dispatch. Without it attempts are
// still claimed and advanced, just silently.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithIntentCreator wires payment-intent creation into the sweep.
func WithIntentCreator(ic IntentCreator) Option {
	return func(s *Scheduler) {
		if ic != nil {
			s.intents = ic
		}
	}
}

// NewScheduler creates the dunning scheduler.
// Panics on nil required collaborators to fail fast during initialization.
func NewScheduler(store Store, subs SubscriptionLifecycle, reverter EntitlementReverter, opts ...Option) *Scheduler {
	if store == nil {
		panic("dunning: Store is required")
	}
	if subs == nil {
		panic("dunning: SubscriptionLifecycle is required")
	}
	if reverter == nil {
		panic("dunning: EntitlementReverter is required")
	}
	s := &Scheduler{
		store:    store,
		subs:     subs,
		reverter: reverter,
		log:      slog.Default(),
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartEpisodeParams describes one failed-payment incident.
type StartEpisodeParams struct {
	SubscriptionID uuid.UUID
	UserID         uuid.UUID
	PaymentRef     string
	FailedAt       time.Time // zero means "now"
}

// StartEpisode reacts to a failed payment. With no episode in flight it
// schedules the full retry plan; attempt 1 is due immediately. With an
// episode in flight the failure is the outcome of the latest retry: the
// in-flight attempt is resolved as failed, and when that was the last one
// the episode escalates to cancellation.
func (s *Scheduler) StartEpisode(ctx context.Context, p StartEpisodeParams) error {
	if p.SubscriptionID == uuid.Nil || p.UserID == uuid.Nil {
		return fmt.Errorf("%w: subscription ID and user ID are required", ErrInvalidParams)
	}

	open, err := s.store.ListOpenBySubscription(ctx, p.SubscriptionID)
	if err != nil {
		return err
	}

	if len(open) > 0 {
		return s.resolveRetryFailure(ctx, p, open)
	}

	failedAt := p.FailedAt
	if failedAt.IsZero() {
		failedAt = s.clock()
	}

	episodeID := uuid.New()
	attempts := make([]*Attempt, 0, MaxAttempts)
	for n := 1; n <= MaxAttempts; n++ {
		attempts = append(attempts, &Attempt{
			ID:             uuid.New(),
			EpisodeID:      episodeID,
			SubscriptionID: p.SubscriptionID,
			UserID:         p.UserID,
			PaymentRef:     p.PaymentRef,
			AttemptNumber:  n,
			Status:         StatusPending,
			ScheduledAt:    ScheduleAt(failedAt, n),
			CreatedAt:      s.clock(),
		})
	}
	if err := s.store.CreateAttempts(ctx, attempts); err != nil {
		return err
	}

	s.log.InfoContext(ctx, "dunning episode opened",
		slog.String("episode_id", episodeID.String()),
		slog.String("subscription_id", p.SubscriptionID.String()),
		slog.String("user_id", p.UserID.String()),
		slog.Int("attempts", len(attempts)))
	return nil
}

// resolveRetryFailure records the failed outcome of an in-flight retry and
// escalates when the episode has no attempts left.
func (s *Scheduler) resolveRetryFailure(ctx context.Context, p StartEpisodeParams, open []*Attempt) error {
	resolved, err := s.store.FailOldestAttempted(ctx, p.SubscriptionID, "payment_failed")
	if err != nil {
		return err
	}
	if !resolved {
		// Duplicate failure notification while retries are still scheduled.
		s.log.InfoContext(ctx, "failure absorbed by in-flight dunning episode",
			slog.String("subscription_id", p.SubscriptionID.String()))
		return nil
	}

	remaining, err := s.store.ListOpenBySubscription(ctx, p.SubscriptionID)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		s.log.InfoContext(ctx, "dunning retry failed, schedule continues",
			slog.String("subscription_id", p.SubscriptionID.String()),
			slog.Int("attempts_left", len(remaining)))
		return nil
	}
	return s.escalate(ctx, p.SubscriptionID, p.UserID)
}

// escalate cancels the subscription and reverts the user's entitlements to
// the free plan after every retry failed.
func (s *Scheduler) escalate(ctx context.Context, subscriptionID, userID uuid.UUID) error {
	skipped, err := s.store.SkipPending(ctx, subscriptionID, SkipReasonExhausted)
	if err != nil {
		return err
	}

	if _, err := s.subs.CancelNow(ctx, subscriptionID); err != nil && !errors.Is(err, subscription.ErrConflict) {
		return err
	}
	if _, err := s.reverter.RevertToFree(ctx, userID); err != nil {
		return err
	}

	s.log.WarnContext(ctx, "dunning exhausted, subscription canceled",
		slog.String("subscription_id", subscriptionID.String()),
		slog.String("user_id", userID.String()),
		slog.Int("attempts_skipped", skipped))
	return nil
}

// ProcessDue claims and executes every due attempt: open a payment intent,
// send the recovery notice, record delivery. Each claim is atomic, so
// overlapping sweeps split the work instead of duplicating it. Outward
// failures do not revert the claim; the schedule always advances.
func (s *Scheduler) ProcessDue(ctx context.Context) (Stats, error) {
	var stats Stats
	for {
		attempt, err := s.store.ClaimNextDue(ctx, s.clock())
		if err != nil {
			if errors.Is(err, ErrNoAttemptsDue) {
				return stats, nil
			}
			return stats, err
		}

		stats.Processed++
		if s.dispatch(ctx, attempt) {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
	}
}

// dispatch performs the outward side of one claimed attempt and reports
// whether the recovery notice went out.
func (s *Scheduler) dispatch(ctx context.Context, attempt *Attempt) bool {
	octx, cancel := context.WithTimeout(ctx, outwardTimeout)
	defer cancel()

	payLink := ""
	if s.intents != nil {
		intent, err := s.intents.CreateRecoveryIntent(octx, attempt)
		if err != nil {
			s.log.ErrorContext(ctx, "failed to open recovery payment intent",
				slog.String("attempt_id", attempt.ID.String()),
				slog.Any("error", err))
		} else {
			payLink = intent.CheckoutURL
		}
	}

	if s.notifier == nil {
		return false
	}
	if err := s.notifier.SendRecoveryNotice(octx, attempt, payLink); err != nil {
		s.log.ErrorContext(ctx, "failed to send recovery notice",
			slog.String("attempt_id", attempt.ID.String()),
			slog.Int("attempt_number", attempt.AttemptNumber),
			slog.Any("error", err))
		return false
	}

	if err := s.store.SetEmailSent(ctx, attempt.ID); err != nil {
		s.log.ErrorContext(ctx, "failed to record email delivery",
			slog.String("attempt_id", attempt.ID.String()),
			slog.Any("error", err))
	}

	s.log.InfoContext(ctx, "dunning attempt dispatched",
		slog.String("attempt_id", attempt.ID.String()),
		slog.String("subscription_id", attempt.SubscriptionID.String()),
		slog.Int("attempt_number", attempt.AttemptNumber))
	return true
}

// MarkSuccess closes the subscription's episode after a successful payment
// and recovers the subscription. Returns how many attempts were closed; zero
// means no episode was in flight.
func (s *Scheduler) MarkSuccess(ctx context.Context, subscriptionID uuid.UUID, paymentRef string) (int, error) {
	closed, err := s.store.CloseEpisodeSuccess(ctx, subscriptionID, paymentRef)
	if err != nil {
		return 0, err
	}
	if closed == 0 {
		return 0, nil
	}

	if _, err := s.subs.Recover(ctx, subscriptionID); err != nil && !errors.Is(err, subscription.ErrConflict) {
		return closed, err
	}

	s.log.InfoContext(ctx, "dunning episode recovered",
		slog.String("subscription_id", subscriptionID.String()),
		slog.Int("attempts_closed", closed))
	return closed, nil
}

// InFlight reports whether the subscription has an open dunning episode.
func (s *Scheduler) InFlight(ctx context.Context, subscriptionID uuid.UUID) (bool, error) {
	open, err := s.store.ListOpenBySubscription(ctx, subscriptionID)
	if err != nil {
		return false, err
	}
	return len(open) > 0, nil
}

// Get returns an attempt by ID.
func (s *Scheduler) Get(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	return s.store.Get(ctx, id)
}

// List returns attempts matching the filter.
func (s *Scheduler) List(ctx context.Context, f Filter) ([]*Attempt, error) {
	return s.store.List(ctx, f)
}
