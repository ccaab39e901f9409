package webhook_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

func newIngestInput(id, typ string) webhook.IngestInput {
	return webhook.IngestInput{
		EventID:   id,
		EventType: typ,
		Payload:   []byte(`{"amount":1000}`),
		Source:    webhook.Source{Gateway: "paddle", RemoteIP: "203.0.113.7"},
	}
}

func TestProcessorIngest(t *testing.T) {
	t.Parallel()

	t.Run("processes a fresh event once", func(t *testing.T) {
		t.Parallel()

		store := webhook.NewMemoryStore()
		p := webhook.NewProcessor(store)

		var calls int32
		p.RegisterHandler("payment_succeeded", func(ctx context.Context, ev *webhook.Event) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})

		res, err := p.Ingest(context.Background(), newIngestInput("evt_1", "payment_succeeded"))
		require.NoError(t, err)
		assert.Equal(t, webhook.StatusProcessed, res.Status)
		assert.False(t, res.Idempotent)
		assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	})

	t.Run("duplicate delivery short-circuits without side effects", func(t *testing.T) {
		t.Parallel()

		store := webhook.NewMemoryStore()
		p := webhook.NewProcessor(store)

		var calls int32
		p.RegisterHandler("payment_succeeded", func(ctx context.Context, ev *webhook.Event) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})

		_, err := p.Ingest(context.Background(), newIngestInput("evt_dup", "payment_succeeded"))
		require.NoError(t, err)

		res, err := p.Ingest(context.Background(), newIngestInput("evt_dup", "payment_succeeded"))
		require.NoError(t, err)
		assert.True(t, res.Idempotent)
		assert.Equal(t, webhook.StatusProcessed, res.Status)
		assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "handler must not re-run on duplicates")
	})

	t.Run("concurrent duplicates execute the handler exactly once", func(t *testing.T) {
		t.Parallel()

		store := webhook.NewMemoryStore()
		p := webhook.NewProcessor(store)

		var calls int32
		p.RegisterHandler("payment_succeeded", func(ctx context.Context, ev *webhook.Event) error {
			atomic.AddInt32(&calls, 1)
			time.Sleep(10 * time.Millisecond) // hold the claim while rivals arrive
			return nil
		})

		const workers = 16
		var wg sync.WaitGroup
		results := make([]webhook.Result, workers)
		for i := range workers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, _ := p.Ingest(context.Background(), newIngestInput("evt_race", "payment_succeeded"))
				results[i] = res
			}(i)
		}
		wg.Wait()

		assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

		winners := 0
		for _, res := range results {
			if !res.Idempotent && !res.InFlight && res.Status == webhook.StatusProcessed {
				winners++
			}
		}
		assert.Equal(t, 1, winners, "exactly one delivery wins the claim")
	})

	t.Run("handler failure marks failed and surfaces retryable error", func(t *testing.T) {
		t.Parallel()

		store := webhook.NewMemoryStore()
		p := webhook.NewProcessor(store)

		p.RegisterHandler("payment_failed", func(ctx context.Context, ev *webhook.Event) error {
			return webhook.Retryable(errors.New("db down"))
		})

		res, err := p.Ingest(context.Background(), newIngestInput("evt_fail", "payment_failed"))
		require.Error(t, err)
		assert.ErrorIs(t, err, webhook.ErrEventFailed)
		assert.True(t, webhook.IsRetryable(err))
		assert.Equal(t, webhook.StatusFailed, res.Status)

		ev, err := p.Get(context.Background(), "evt_fail")
		require.NoError(t, err)
		assert.Equal(t, webhook.StatusFailed, ev.Status)
		assert.Equal(t, 1, ev.Attempts)
	})

	t.Run("failed event is claimable again and can succeed", func(t *testing.T) {
		t.Parallel()

		store := webhook.NewMemoryStore()
		p := webhook.NewProcessor(store)

		attempts := 0
		p.RegisterHandler("payment_failed", func(ctx context.Context, ev *webhook.Event) error {
			attempts++
			if attempts == 1 {
				return errors.New("transient")
			}
			return nil
		})

		_, err := p.Ingest(context.Background(), newIngestInput("evt_retry", "payment_failed"))
		require.Error(t, err)

		res, err := p.Retry(context.Background(), "evt_retry")
		require.NoError(t, err)
		assert.Equal(t, webhook.StatusProcessed, res.Status)
		assert.Equal(t, 2, attempts)
	})

	t.Run("unhandled event type is acknowledged as a no-op", func(t *testing.T) {
		t.Parallel()

		store := webhook.NewMemoryStore()
		p := webhook.NewProcessor(store)

		res, err := p.Ingest(context.Background(), newIngestInput("evt_unknown", "something_new"))
		require.NoError(t, err)
		assert.True(t, res.Unhandled)
		assert.Equal(t, webhook.StatusProcessed, res.Status)
	})

	t.Run("rejects missing event ID", func(t *testing.T) {
		t.Parallel()

		p := webhook.NewProcessor(webhook.NewMemoryStore())
		_, err := p.Ingest(context.Background(), webhook.IngestInput{EventType: "payment_succeeded"})
		assert.ErrorIs(t, err, webhook.ErrInvalidInput)
	})
}

func TestProcessorStaleClaim(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	now := time.Now().UTC()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	store := webhook.NewMemoryStore().WithClock(clock)
	p := webhook.NewProcessor(store, webhook.WithClock(clock))

	block := make(chan struct{})
	var calls int32
	p.RegisterHandler("payment_succeeded", func(ctx context.Context, ev *webhook.Event) error {
		atomic.AddInt32(&calls, 1)
		if atomic.LoadInt32(&calls) == 1 {
			<-block // simulate a crash-like stall holding the claim
		}
		return nil
	})

	go func() {
		_, _ = p.Ingest(context.Background(), newIngestInput("evt_stale", "payment_succeeded"))
	}()

	// Give the first delivery time to acquire the claim.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, time.Second, 5*time.Millisecond)

	// Within the stale window the claim holds.
	res, err := p.Ingest(context.Background(), newIngestInput("evt_stale", "payment_succeeded"))
	require.NoError(t, err)
	assert.True(t, res.InFlight)

	// After the stale window another delivery may take the claim over.
	mu.Lock()
	now = now.Add(webhook.StaleClaimAfter + time.Minute)
	mu.Unlock()
	res, err = p.Ingest(context.Background(), newIngestInput("evt_stale", "payment_succeeded"))
	require.NoError(t, err)
	assert.False(t, res.InFlight)
	assert.Equal(t, webhook.StatusProcessed, res.Status)

	close(block)
}

func TestProcessorList(t *testing.T) {
	t.Parallel()

	store := webhook.NewMemoryStore()
	p := webhook.NewProcessor(store)
	p.RegisterHandler("payment_succeeded", func(ctx context.Context, ev *webhook.Event) error { return nil })
	p.RegisterHandler("payment_failed", func(ctx context.Context, ev *webhook.Event) error {
		return errors.New("boom")
	})

	_, err := p.Ingest(context.Background(), newIngestInput("evt_a", "payment_succeeded"))
	require.NoError(t, err)
	_, err = p.Ingest(context.Background(), newIngestInput("evt_b", "payment_failed"))
	require.Error(t, err)

	failed, err := p.List(context.Background(), webhook.Filter{Status: webhook.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "evt_b", failed[0].EventID)

	all, err := p.List(context.Background(), webhook.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
