package dunning_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/dunning"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

type fakeLifecycle struct {
	mu        sync.Mutex
	recovered []uuid.UUID
	canceled  []uuid.UUID
}

func (f *fakeLifecycle) Recover(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovered = append(f.recovered, id)
	return &subscription.Subscription{ID: id, Status: subscription.StatusActive}, nil
}

func (f *fakeLifecycle) CancelNow(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, id)
	return &subscription.Subscription{ID: id, Status: subscription.StatusCanceled}, nil
}

type fakeReverter struct {
	mu       sync.Mutex
	reverted []uuid.UUID
}

func (f *fakeReverter) RevertToFree(ctx context.Context, userID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reverted = append(f.reverted, userID)
	return 1, nil
}

type fakeNotifier struct {
	calls atomic.Int32
	err   error
}

func (f *fakeNotifier) SendRecoveryNotice(ctx context.Context, attempt *dunning.Attempt, payLink string) error {
	f.calls.Add(1)
	return f.err
}

type fakeIntents struct {
	calls atomic.Int32
}

func (f *fakeIntents) CreateRecoveryIntent(ctx context.Context, attempt *dunning.Attempt) (gateway.PaymentIntent, error) {
	f.calls.Add(1)
	return gateway.PaymentIntent{ID: "txn_1", CheckoutURL: "https://pay.example.com/txn_1"}, nil
}

func newTestScheduler(t *testing.T, store dunning.Store, now time.Time, opts ...dunning.Option) (*dunning.Scheduler, *fakeLifecycle, *fakeReverter) {
	t.Helper()
	subs := &fakeLifecycle{}
	rev := &fakeReverter{}
	opts = append(opts, dunning.WithClock(func() time.Time { return now }))
	return dunning.NewScheduler(store, subs, rev, opts...), subs, rev
}

func TestSchedulerStartEpisode(t *testing.T) {
	t.Parallel()

	// Monday, so no weekend shifts interfere.
	monday := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	t.Run("opens a full retry plan on first failure", func(t *testing.T) {
		t.Parallel()

		store := dunning.NewMemoryStore()
		s, _, _ := newTestScheduler(t, store, monday)

		subID, userID := uuid.New(), uuid.New()
		require.NoError(t, s.StartEpisode(context.Background(), dunning.StartEpisodeParams{
			SubscriptionID: subID,
			UserID:         userID,
			PaymentRef:     "pay_1",
			FailedAt:       monday,
		}))

		open, err := store.ListOpenBySubscription(context.Background(), subID)
		require.NoError(t, err)
		require.Len(t, open, dunning.MaxAttempts)

		for i, a := range open {
			assert.Equal(t, i+1, a.AttemptNumber)
			assert.Equal(t, dunning.StatusPending, a.Status)
			assert.Equal(t, dunning.ScheduleAt(monday, i+1), a.ScheduledAt)
			assert.Equal(t, open[0].EpisodeID, a.EpisodeID, "one episode binds all attempts")
		}
		assert.Equal(t, monday, open[0].ScheduledAt, "first attempt is due immediately")
	})

	t.Run("rejects missing identifiers", func(t *testing.T) {
		t.Parallel()

		store := dunning.NewMemoryStore()
		s, _, _ := newTestScheduler(t, store, monday)
		err := s.StartEpisode(context.Background(), dunning.StartEpisodeParams{})
		assert.ErrorIs(t, err, dunning.ErrInvalidParams)
	})

	t.Run("mid-episode failure resolves the in-flight attempt", func(t *testing.T) {
		t.Parallel()

		store := dunning.NewMemoryStore()
		s, subs, rev := newTestScheduler(t, store, monday)

		subID, userID := uuid.New(), uuid.New()
		p := dunning.StartEpisodeParams{SubscriptionID: subID, UserID: userID, FailedAt: monday}
		require.NoError(t, s.StartEpisode(context.Background(), p))

		// Worker picks up attempt 1, then its charge fails.
		_, err := store.ClaimNextDue(context.Background(), monday)
		require.NoError(t, err)
		require.NoError(t, s.StartEpisode(context.Background(), p))

		open, err := store.ListOpenBySubscription(context.Background(), subID)
		require.NoError(t, err)
		assert.Len(t, open, 2, "attempts 2 and 3 remain scheduled")
		assert.Empty(t, subs.canceled, "no escalation while retries remain")
		assert.Empty(t, rev.reverted)

		got, err := store.List(context.Background(), dunning.Filter{SubscriptionID: subID, Status: dunning.StatusFailed})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 1, got[0].AttemptNumber)
	})

	t.Run("exhausting the last attempt escalates exactly once", func(t *testing.T) {
		t.Parallel()

		store := dunning.NewMemoryStore()
		s, subs, rev := newTestScheduler(t, store, monday)

		subID, userID := uuid.New(), uuid.New()
		p := dunning.StartEpisodeParams{SubscriptionID: subID, UserID: userID, FailedAt: monday}
		require.NoError(t, s.StartEpisode(context.Background(), p))

		// Burn through all three attempts: claim, then report the failure.
		deadline := monday.AddDate(0, 0, 14)
		for range dunning.MaxAttempts {
			_, err := store.ClaimNextDue(context.Background(), deadline)
			require.NoError(t, err)
			require.NoError(t, s.StartEpisode(context.Background(), p))
		}

		require.Len(t, subs.canceled, 1)
		assert.Equal(t, subID, subs.canceled[0])
		require.Len(t, rev.reverted, 1)
		assert.Equal(t, userID, rev.reverted[0])

		open, err := store.ListOpenBySubscription(context.Background(), subID)
		require.NoError(t, err)
		assert.Empty(t, open, "no open attempts survive escalation")
	})

	t.Run("duplicate failure with all attempts pending is absorbed", func(t *testing.T) {
		t.Parallel()

		store := dunning.NewMemoryStore()
		s, subs, _ := newTestScheduler(t, store, monday)

		subID, userID := uuid.New(), uuid.New()
		p := dunning.StartEpisodeParams{SubscriptionID: subID, UserID: userID, FailedAt: monday}
		require.NoError(t, s.StartEpisode(context.Background(), p))
		require.NoError(t, s.StartEpisode(context.Background(), p))

		open, err := store.ListOpenBySubscription(context.Background(), subID)
		require.NoError(t, err)
		assert.Len(t, open, dunning.MaxAttempts, "no extra attempts created")
		assert.Empty(t, subs.canceled)
	})
}

func TestSchedulerProcessDue(t *testing.T) {
	t.Parallel()

	monday := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	t.Run("dispatches due attempts with intent and notice", func(t *testing.T) {
		t.Parallel()

		store := dunning.NewMemoryStore()
		notifier := &fakeNotifier{}
		intents := &fakeIntents{}
		s, _, _ := newTestScheduler(t, store, monday,
			dunning.WithNotifier(notifier), dunning.WithIntentCreator(intents))

		subID, userID := uuid.New(), uuid.New()
		require.NoError(t, s.StartEpisode(context.Background(), dunning.StartEpisodeParams{
			SubscriptionID: subID, UserID: userID, FailedAt: monday,
		}))

		stats, err := s.ProcessDue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, dunning.Stats{Processed: 1, Succeeded: 1}, stats, "only attempt 1 is due on day 0")
		assert.EqualValues(t, 1, notifier.calls.Load())
		assert.EqualValues(t, 1, intents.calls.Load())

		attempted, err := store.List(context.Background(), dunning.Filter{SubscriptionID: subID, Status: dunning.StatusAttempted})
		require.NoError(t, err)
		require.Len(t, attempted, 1)
		assert.True(t, attempted[0].EmailSent)
	})

	t.Run("notification failure still advances the schedule", func(t *testing.T) {
		t.Parallel()

		store := dunning.NewMemoryStore()
		notifier := &fakeNotifier{err: context.DeadlineExceeded}
		s, _, _ := newTestScheduler(t, store, monday, dunning.WithNotifier(notifier))

		subID := uuid.New()
		require.NoError(t, s.StartEpisode(context.Background(), dunning.StartEpisodeParams{
			SubscriptionID: subID, UserID: uuid.New(), FailedAt: monday,
		}))

		stats, err := s.ProcessDue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, dunning.Stats{Processed: 1, Failed: 1}, stats)

		attempted, err := store.List(context.Background(), dunning.Filter{SubscriptionID: subID, Status: dunning.StatusAttempted})
		require.NoError(t, err)
		require.Len(t, attempted, 1, "claim is not reverted on delivery failure")
		assert.False(t, attempted[0].EmailSent)
	})

	t.Run("concurrent sweeps never double-process", func(t *testing.T) {
		t.Parallel()

		store := dunning.NewMemoryStore()
		notifier := &fakeNotifier{}
		s, _, _ := newTestScheduler(t, store, monday, dunning.WithNotifier(notifier))

		// Ten episodes, each with one due attempt.
		for range 10 {
			require.NoError(t, s.StartEpisode(context.Background(), dunning.StartEpisodeParams{
				SubscriptionID: uuid.New(), UserID: uuid.New(), FailedAt: monday,
			}))
		}

		var wg sync.WaitGroup
		var processed atomic.Int32
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				stats, err := s.ProcessDue(context.Background())
				assert.NoError(t, err)
				processed.Add(int32(stats.Processed))
			}()
		}
		wg.Wait()

		assert.EqualValues(t, 10, processed.Load(), "every due attempt claimed exactly once")
	})
}

func TestSchedulerMarkSuccess(t *testing.T) {
	t.Parallel()

	monday := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	t.Run("closes the episode and recovers the subscription", func(t *testing.T) {
		t.Parallel()

		store := dunning.NewMemoryStore()
		s, subs, _ := newTestScheduler(t, store, monday)

		subID := uuid.New()
		require.NoError(t, s.StartEpisode(context.Background(), dunning.StartEpisodeParams{
			SubscriptionID: subID, UserID: uuid.New(), FailedAt: monday,
		}))

		closed, err := s.MarkSuccess(context.Background(), subID, "pay_recovered")
		require.NoError(t, err)
		assert.Equal(t, dunning.MaxAttempts, closed)
		require.Len(t, subs.recovered, 1)

		inFlight, err := s.InFlight(context.Background(), subID)
		require.NoError(t, err)
		assert.False(t, inFlight)
	})

	t.Run("no-op without an episode", func(t *testing.T) {
		t.Parallel()

		store := dunning.NewMemoryStore()
		s, subs, _ := newTestScheduler(t, store, monday)

		closed, err := s.MarkSuccess(context.Background(), uuid.New(), "pay_x")
		require.NoError(t, err)
		assert.Zero(t, closed)
		assert.Empty(t, subs.recovered, "no spurious recovery")
	})
}
