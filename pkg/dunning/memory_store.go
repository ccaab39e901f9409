package dunning

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store for tests and local development. One mutex
// covers every operation, so the claim semantics match the Mongo store's
// conditional updates.
type MemoryStore struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*Attempt
}

// NewMemoryStore creates an empty in-memory attempt store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attempts: make(map[uuid.UUID]*Attempt)}
}

func (ms *MemoryStore) CreateAttempts(ctx context.Context, attempts []*Attempt) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, a := range attempts {
		cp := *a
		ms.attempts[a.ID] = &cp
	}
	return nil
}

func (ms *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	a, ok := ms.attempts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (ms *MemoryStore) List(ctx context.Context, f Filter) ([]*Attempt, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var out []*Attempt
	for _, a := range ms.attempts {
		if f.SubscriptionID != uuid.Nil && a.SubscriptionID != f.SubscriptionID {
			continue
		}
		if f.UserID != uuid.Nil && a.UserID != f.UserID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && a.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && a.CreatedAt.After(f.To) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (ms *MemoryStore) ListOpenBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*Attempt, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var out []*Attempt
	for _, a := range ms.attempts {
		if a.SubscriptionID == subscriptionID && !a.Status.Terminal() {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

func (ms *MemoryStore) ClaimNextDue(ctx context.Context, now time.Time) (*Attempt, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var due *Attempt
	for _, a := range ms.attempts {
		if a.Status != StatusPending || a.ScheduledAt.After(now) {
			continue
		}
		if due == nil || a.ScheduledAt.Before(due.ScheduledAt) {
			due = a
		}
	}
	if due == nil {
		return nil, ErrNoAttemptsDue
	}

	at := now
	due.Status = StatusAttempted
	due.AttemptedAt = &at
	cp := *due
	return &cp, nil
}

func (ms *MemoryStore) SetEmailSent(ctx context.Context, id uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	a, ok := ms.attempts[id]
	if !ok {
		return ErrNotFound
	}
	a.EmailSent = true
	return nil
}

func (ms *MemoryStore) FailOldestAttempted(ctx context.Context, subscriptionID uuid.UUID, resultStatus string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var oldest *Attempt
	for _, a := range ms.attempts {
		if a.SubscriptionID != subscriptionID || a.Status != StatusAttempted {
			continue
		}
		if oldest == nil || a.AttemptNumber < oldest.AttemptNumber {
			oldest = a
		}
	}
	if oldest == nil {
		return false, nil
	}
	oldest.Status = StatusFailed
	oldest.ResultStatus = resultStatus
	return true, nil
}

func (ms *MemoryStore) CloseEpisodeSuccess(ctx context.Context, subscriptionID uuid.UUID, paymentRef string) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	closed := 0
	for _, a := range ms.attempts {
		if a.SubscriptionID != subscriptionID || a.Status.Terminal() {
			continue
		}
		a.Status = StatusSuccess
		a.ResultStatus = "recovered"
		if paymentRef != "" {
			a.PaymentRef = paymentRef
		}
		closed++
	}
	return closed, nil
}

func (ms *MemoryStore) SkipPending(ctx context.Context, subscriptionID uuid.UUID, reason string) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	skipped := 0
	for _, a := range ms.attempts {
		if a.SubscriptionID != subscriptionID || a.Status != StatusPending {
			continue
		}
		a.Status = StatusSkipped
		a.ResultStatus = reason
		skipped++
	}
	return skipped, nil
}
