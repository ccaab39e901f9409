package subscription_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

func newTestService(t *testing.T, now time.Time) (*subscription.Service, *subscription.MemoryStore) {
	t.Helper()
	store := subscription.NewMemoryStore()
	svc := subscription.NewService(store, subscription.WithClock(func() time.Time { return now }))
	return svc, store
}

func activate(t *testing.T, svc *subscription.Service, userID uuid.UUID) *subscription.Subscription {
	t.Helper()
	sub, err := svc.Activate(context.Background(), subscription.ActivateParams{
		UserID:        userID,
		PlanID:        "pro",
		Amount:        2900,
		Currency:      "USD",
		ProviderSubID: "sub_" + userID.String()[:8],
	})
	require.NoError(t, err)
	return sub
}

func TestServiceActivate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	t.Run("creates an active subscription with a full cycle", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestService(t, now)
		sub := activate(t, svc, uuid.New())

		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.Equal(t, now, sub.PeriodStart)
		assert.Equal(t, now.Add(subscription.DefaultBillingCycle), sub.PeriodEnd)
		require.NotNil(t, sub.LastPaymentAt)
		assert.Equal(t, now, *sub.LastPaymentAt)
	})

	t.Run("second live subscription is rejected", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestService(t, now)
		userID := uuid.New()
		activate(t, svc, userID)

		_, err := svc.Activate(context.Background(), subscription.ActivateParams{
			UserID: userID,
			PlanID: "advanced",
		})
		assert.ErrorIs(t, err, subscription.ErrAlreadySubscribed)
	})

	t.Run("resubscription after cancellation is allowed", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestService(t, now)
		userID := uuid.New()
		sub := activate(t, svc, userID)

		_, err := svc.CancelNow(context.Background(), sub.ID)
		require.NoError(t, err)

		again := activate(t, svc, userID)
		assert.NotEqual(t, sub.ID, again.ID)
		assert.Equal(t, subscription.StatusActive, again.Status)
	})

	t.Run("rejects missing params", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestService(t, now)
		_, err := svc.Activate(context.Background(), subscription.ActivateParams{})
		assert.ErrorIs(t, err, subscription.ErrInvalidParams)
	})
}

func TestServiceTransitions(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	t.Run("past due and recover round trip", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestService(t, now)
		sub := activate(t, svc, uuid.New())

		pd, err := svc.MarkPastDue(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPastDue, pd.Status)

		rec, err := svc.Recover(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, rec.Status)
		require.NotNil(t, rec.LastPaymentAt)
	})

	t.Run("illegal transition reports a conflict", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestService(t, now)
		sub := activate(t, svc, uuid.New())

		// Recover only applies to past_due.
		_, err := svc.Recover(context.Background(), sub.ID)
		assert.ErrorIs(t, err, subscription.ErrConflict)

		// A canceled subscription cannot go past due.
		_, err = svc.CancelNow(context.Background(), sub.ID)
		require.NoError(t, err)
		_, err = svc.MarkPastDue(context.Background(), sub.ID)
		assert.ErrorIs(t, err, subscription.ErrConflict)
	})

	t.Run("unknown subscription reports not found", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestService(t, now)
		_, err := svc.MarkPastDue(context.Background(), uuid.New())
		assert.ErrorIs(t, err, subscription.ErrNotFound)
	})

	t.Run("renew extends the period by one cycle", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestService(t, now)
		sub := activate(t, svc, uuid.New())

		renewed, err := svc.Renew(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, sub.PeriodEnd.Add(subscription.DefaultBillingCycle), renewed.PeriodEnd)
		assert.Equal(t, subscription.StatusActive, renewed.Status)
	})

	t.Run("cancel now closes the period immediately", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestService(t, now)
		sub := activate(t, svc, uuid.New())

		canceled, err := svc.CancelNow(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCanceled, canceled.Status)
		assert.Equal(t, now, canceled.PeriodEnd)
		require.NotNil(t, canceled.CanceledAt)
	})

	t.Run("cancel at period end only flags", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestService(t, now)
		sub := activate(t, svc, uuid.New())

		flagged, err := svc.CancelAtPeriodEnd(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, flagged.Status)
		assert.True(t, flagged.CancelAtPeriodEnd)
	})

	t.Run("pause and resume", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestService(t, now)
		sub := activate(t, svc, uuid.New())

		paused, err := svc.Pause(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPaused, paused.Status)

		// Pausing twice conflicts.
		_, err = svc.Pause(context.Background(), sub.ID)
		assert.ErrorIs(t, err, subscription.ErrConflict)

		resumed, err := svc.Resume(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, resumed.Status)
	})
}

func TestServiceExpireDue(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	t.Run("expires ended periods and cancels flagged ones", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		now := start
		svc := subscription.NewService(store, subscription.WithClock(func() time.Time { return now }))

		plain := activate(t, svc, uuid.New())
		flagged := activate(t, svc, uuid.New())
		_, err := svc.CancelAtPeriodEnd(context.Background(), flagged.ID)
		require.NoError(t, err)

		// Nothing due before the period ends.
		closed, err := svc.ExpireDue(context.Background())
		require.NoError(t, err)
		assert.Zero(t, closed)

		now = start.Add(subscription.DefaultBillingCycle + time.Hour)
		closed, err = svc.ExpireDue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, closed)

		got, err := svc.Get(context.Background(), plain.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusExpired, got.Status)

		got, err = svc.Get(context.Background(), flagged.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCanceled, got.Status)
	})

	t.Run("paused subscriptions outlive their period", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		now := start
		svc := subscription.NewService(store, subscription.WithClock(func() time.Time { return now }))

		paused := activate(t, svc, uuid.New())
		_, err := svc.Pause(context.Background(), paused.ID)
		require.NoError(t, err)

		flagged := activate(t, svc, uuid.New())
		_, err = svc.Pause(context.Background(), flagged.ID)
		require.NoError(t, err)
		// Flagged before pausing would conflict; flag directly in the store.
		flag := true
		_, err = store.Transition(context.Background(), flagged.ID,
			[]subscription.Status{subscription.StatusPaused},
			subscription.Update{Status: subscription.StatusPaused, CancelAtPeriodEnd: &flag})
		require.NoError(t, err)

		now = start.Add(subscription.DefaultBillingCycle + time.Hour)

		closed, err := svc.ExpireDue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, closed, "only the flagged pause closes")

		got, err := svc.Get(context.Background(), paused.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPaused, got.Status)

		got, err = svc.Get(context.Background(), flagged.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCanceled, got.Status)

		// Repeated sweeps do not re-touch the survivor.
		closed, err = svc.ExpireDue(context.Background())
		require.NoError(t, err)
		assert.Zero(t, closed)
	})

	t.Run("sweep is idempotent", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore()
		now := start
		svc := subscription.NewService(store, subscription.WithClock(func() time.Time { return now }))

		activate(t, svc, uuid.New())
		now = start.Add(subscription.DefaultBillingCycle + time.Hour)

		closed, err := svc.ExpireDue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, closed)

		closed, err = svc.ExpireDue(context.Background())
		require.NoError(t, err)
		assert.Zero(t, closed)
	})
}

func TestServiceLookups(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)

	userID := uuid.New()
	sub := activate(t, svc, userID)

	live, err := svc.GetLiveByUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, live.ID)

	byProvider, err := svc.GetByProviderID(context.Background(), sub.ProviderSubID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, byProvider.ID)

	_, err = svc.GetByProviderID(context.Background(), "sub_missing")
	assert.ErrorIs(t, err, subscription.ErrNotFound)

	_, err = svc.GetLiveByUser(context.Background(), uuid.New())
	assert.ErrorIs(t, err, subscription.ErrNotFound)
}
