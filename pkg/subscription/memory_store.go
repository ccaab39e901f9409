package subscription

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store for tests and local development.
// All mutations run under one mutex, which makes the conditional transition
// trivially atomic.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription
}

// NewMemoryStore creates an empty in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[uuid.UUID]*Subscription)}
}

func (ms *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, existing := range ms.subs {
		if existing.UserID == sub.UserID && existing.Status.Live() {
			return ErrAlreadySubscribed
		}
	}

	cp := *sub
	ms.subs[sub.ID] = &cp
	return nil
}

func (ms *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	sub, ok := ms.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (ms *MemoryStore) GetLiveByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	for _, sub := range ms.subs {
		if sub.UserID == userID && sub.Status.Live() {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (ms *MemoryStore) GetByProviderID(ctx context.Context, providerSubID string) (*Subscription, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if providerSubID == "" {
		return nil, ErrNotFound
	}
	for _, sub := range ms.subs {
		if sub.ProviderSubID == providerSubID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (ms *MemoryStore) Transition(ctx context.Context, id uuid.UUID, expect []Status, upd Update) (*Subscription, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	sub, ok := ms.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !slices.Contains(expect, sub.Status) {
		return nil, ErrConflict
	}

	sub.Status = upd.Status
	if upd.PeriodStart != nil {
		sub.PeriodStart = *upd.PeriodStart
	}
	if upd.PeriodEnd != nil {
		sub.PeriodEnd = *upd.PeriodEnd
	}
	if upd.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *upd.CancelAtPeriodEnd
	}
	if upd.CanceledAt != nil {
		sub.CanceledAt = upd.CanceledAt
	}
	if upd.LastPaymentAt != nil {
		sub.LastPaymentAt = upd.LastPaymentAt
	}
	if upd.NextBillingAt != nil {
		sub.NextBillingAt = upd.NextBillingAt
	}
	sub.UpdatedAt = time.Now().UTC()

	cp := *sub
	return &cp, nil
}

func (ms *MemoryStore) ListPeriodEnded(ctx context.Context, before time.Time) ([]*Subscription, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*Subscription
	for _, sub := range ms.subs {
		if sub.Status.Live() && !sub.PeriodEnd.After(before) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}
