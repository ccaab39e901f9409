package webhook

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store for tests and local development. The single
// mutex makes create-or-claim atomic the same way the Mongo store's
// conditional upsert does.
type MemoryStore struct {
	mu     sync.Mutex
	clock  func() time.Time
	events map[string]*Event // keyed by gateway event ID
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clock:  func() time.Time { return time.Now().UTC() },
		events: make(map[string]*Event),
	}
}

// WithClock injects a time source for tests and returns the store.
func (ms *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	if clock != nil {
		ms.clock = clock
	}
	return ms
}

func (ms *MemoryStore) ClaimForProcessing(ctx context.Context, ev *Event) (*Event, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.clock()

	existing, ok := ms.events[ev.EventID]
	if !ok {
		cp := *ev
		cp.Status = StatusProcessing
		cp.ClaimedAt = &now
		ms.events[ev.EventID] = &cp
		out := cp
		return &out, true, nil
	}

	switch existing.Status {
	case StatusProcessed:
		cp := *existing
		return &cp, false, nil
	case StatusProcessing:
		if existing.ClaimedAt != nil && now.Sub(*existing.ClaimedAt) < StaleClaimAfter {
			cp := *existing
			return &cp, false, nil
		}
		// Stale claim, take over.
		existing.ClaimedAt = &now
		cp := *existing
		return &cp, true, nil
	default: // pending or failed: take the claim
		existing.Status = StatusProcessing
		existing.ClaimedAt = &now
		cp := *existing
		return &cp, true, nil
	}
}

func (ms *MemoryStore) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ev, ok := ms.events[eventID]
	if !ok {
		return ErrNotFound
	}
	ev.Status = StatusProcessed
	ev.Error = ""
	ev.ProcessedAt = &at
	return nil
}

func (ms *MemoryStore) MarkFailed(ctx context.Context, eventID string, errMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ev, ok := ms.events[eventID]
	if !ok {
		return ErrNotFound
	}
	ev.Status = StatusFailed
	ev.Error = errMsg
	ev.Attempts++
	return nil
}

func (ms *MemoryStore) Get(ctx context.Context, eventID string) (*Event, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ev, ok := ms.events[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (ms *MemoryStore) List(ctx context.Context, f Filter) ([]*Event, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var out []*Event
	for _, ev := range ms.events {
		if f.Status != "" && ev.Status != f.Status {
			continue
		}
		if f.EventType != "" && ev.EventType != f.EventType {
			continue
		}
		if !f.From.IsZero() && ev.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && ev.CreatedAt.After(f.To) {
			continue
		}
		cp := *ev
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
