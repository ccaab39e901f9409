package entitlement

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/plan"
)

// MemoryStore implements AddonStore and UsageStore for tests and local
// development. One mutex covers both catalogs so the quantity-cap check and
// the check-and-consume are atomic.
type MemoryStore struct {
	mu         sync.Mutex
	addons     map[string]*Addon
	userAddons map[uuid.UUID]*UserAddon
	usage      map[uuid.UUID]*UsageRecord
}

// NewMemoryStore creates an empty in-memory entitlement store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		addons:     make(map[string]*Addon),
		userAddons: make(map[uuid.UUID]*UserAddon),
		usage:      make(map[uuid.UUID]*UsageRecord),
	}
}

// PutAddon seeds a catalog entry.
func (ms *MemoryStore) PutAddon(a *Addon) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cp := *a
	ms.addons[a.ID] = &cp
}

func (ms *MemoryStore) GetAddon(ctx context.Context, addonID string) (*Addon, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	a, ok := ms.addons[addonID]
	if !ok {
		return nil, ErrAddonNotFound
	}
	cp := *a
	return &cp, nil
}

func (ms *MemoryStore) ListActiveUserAddons(ctx context.Context, userID uuid.UUID) ([]*UserAddon, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var out []*UserAddon
	for _, ua := range ms.userAddons {
		if ua.UserID == userID && ua.Contributes() {
			cp := *ua
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (ms *MemoryStore) CreateUserAddon(ctx context.Context, ua *UserAddon, maxQuantity int) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	total := ua.Quantity
	for _, existing := range ms.userAddons {
		if existing.UserID == ua.UserID && existing.AddonID == ua.AddonID && existing.Contributes() {
			total += existing.Quantity
		}
	}
	if maxQuantity > 0 && total > maxQuantity {
		return ErrMaxQuantityExceeded
	}

	cp := *ua
	ms.userAddons[ua.ID] = &cp
	return nil
}

func (ms *MemoryStore) SetUserAddonStatus(ctx context.Context, id uuid.UUID, status UserAddonStatus) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ua, ok := ms.userAddons[id]
	if !ok {
		return ErrAddonNotFound
	}
	ua.Status = status
	ua.UpdatedAt = time.Now().UTC()
	return nil
}

func (ms *MemoryStore) ExpireUserAddons(ctx context.Context, userID uuid.UUID, keep func(*UserAddon) bool) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	expired := 0
	for _, ua := range ms.userAddons {
		if ua.UserID != userID || !ua.Contributes() {
			continue
		}
		if keep != nil && keep(ua) {
			continue
		}
		ua.Status = UserAddonExpired
		ua.UpdatedAt = time.Now().UTC()
		expired++
	}
	return expired, nil
}

func (ms *MemoryStore) Get(ctx context.Context, userID uuid.UUID) (*UsageRecord, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec, ok := ms.usage[userID]
	if !ok {
		return nil, ErrUsageNotFound
	}
	cp := *rec
	return &cp, nil
}

func (ms *MemoryStore) Ensure(ctx context.Context, userID uuid.UUID, cycleStart, cycleEnd time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.usage[userID]; ok {
		return nil
	}
	ms.usage[userID] = &UsageRecord{
		UserID:         userID,
		CycleStart:     cycleStart,
		CycleEnd:       cycleEnd,
		LastDailyReset: truncateToDay(cycleStart),
		UpdatedAt:      time.Now().UTC(),
	}
	return nil
}

func (ms *MemoryStore) CheckAndConsume(ctx context.Context, userID uuid.UUID, q plan.QuotaType, amount, limit int64, today time.Time) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec, ok := ms.usage[userID]
	if !ok {
		return false, ErrUsageNotFound
	}

	day := truncateToDay(today)
	if DailyQuota(q) && rec.LastDailyReset.Before(day) {
		rec.ModelsTrainedToday = 0
		rec.LastDailyReset = day
	}

	used := rec.UsedFor(q)
	if limit != plan.Unlimited && used+amount > limit {
		return false, nil
	}

	switch q {
	case plan.QuotaAPIHitsPerMonth:
		rec.APIHitsUsed += amount
	case plan.QuotaModelsPerDay:
		rec.ModelsTrainedToday += amount
	case plan.QuotaStorageMB:
		rec.StorageUsedMB += amount
	case plan.QuotaLabelingFilesPerMonth:
		rec.LabelingFilesUsed += amount
	default:
		return false, ErrInvalidParams
	}
	rec.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (ms *MemoryStore) RolloverDue(ctx context.Context, now time.Time, cycle time.Duration) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rolled := 0
	for _, rec := range ms.usage {
		if rec.CycleEnd.After(now) {
			continue
		}
		rec.CycleStart = rec.CycleEnd
		rec.CycleEnd = rec.CycleEnd.Add(cycle)
		rec.APIHitsUsed = 0
		rec.ModelsTrainedToday = 0
		rec.StorageUsedMB = 0
		rec.LabelingFilesUsed = 0
		rec.LastDailyReset = truncateToDay(now)
		rec.UpdatedAt = time.Now().UTC()
		rolled++
	}
	return rolled, nil
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
