package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/plan"
)

// AddonStore defines addon catalog and purchase persistence.
type AddonStore interface {
	// GetAddon retrieves a catalog entry by slug.
	GetAddon(ctx context.Context, addonID string) (*Addon, error)

	// ListActiveUserAddons returns all purchases still contributing to the
	// user's limits.
	ListActiveUserAddons(ctx context.Context, userID uuid.UUID) ([]*UserAddon, error)

	// CreateUserAddon inserts a purchase. The insert must atomically enforce
	// Σ quantity (active purchases of the same addon) ≤ MaxQuantity and
	// return ErrMaxQuantityExceeded when it would not hold.
	CreateUserAddon(ctx context.Context, ua *UserAddon, maxQuantity int) error

	// SetUserAddonStatus moves a purchase to canceled/expired.
	SetUserAddonStatus(ctx context.Context, id uuid.UUID, status UserAddonStatus) error

	// ExpireUserAddons expires all of a user's active purchases that fail
	// the keep filter; used when escalation reverts a user to the free plan.
	// Implementations may invoke keep while holding internal locks, so the
	// filter must not call back into the store.
	// Returns how many purchases were expired.
	ExpireUserAddons(ctx context.Context, userID uuid.UUID, keep func(*UserAddon) bool) (int, error)
}

// UsageStore defines usage-counter persistence. All mutating operations are
// conditional writes so the limit check and the increment cannot be split by
// a concurrent request.
type UsageStore interface {
	// Get retrieves the user's current-cycle usage record.
	Get(ctx context.Context, userID uuid.UUID) (*UsageRecord, error)

	// Ensure creates the user's usage record for the cycle if missing.
	Ensure(ctx context.Context, userID uuid.UUID, cycleStart, cycleEnd time.Time) error

	// CheckAndConsume atomically increments the counter for q by amount if
	// the result stays within limit (plan.Unlimited bypasses the check).
	// Daily counters are reset first when today is past the stored reset
	// date, under the same conditional-write discipline. Returns false
	// without mutating anything when the limit would be exceeded.
	CheckAndConsume(ctx context.Context, userID uuid.UUID, q plan.QuotaType, amount, limit int64, today time.Time) (bool, error)

	// RolloverDue resets counters for every record whose cycle ended at or
	// before now, advancing the cycle window. Returns how many records
	// rolled. Idempotent: a record rolls at most once per boundary.
	RolloverDue(ctx context.Context, now time.Time, cycle time.Duration) (int, error)
}
