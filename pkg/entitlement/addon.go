package entitlement

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/plan"
)

// Addon is a catalog entry: a purchasable quota boost layered on top of a
// base plan. ID doubles as the addon slug (e.g. "api_boost_5000").
type Addon struct {
	ID              string
	Name            string
	QuotaType       plan.QuotaType
	QuotaAmount     int64    // contribution per purchased unit
	CompatiblePlans []string // plan IDs this addon can attach to
	MaxQuantity     int      // cap on Σ quantity across a user's active purchases
	Price           plan.Money
}

// CompatibleWith reports whether the addon can attach to the given plan.
// An empty compatibility list means any plan.
func (a Addon) CompatibleWith(planID string) bool {
	return len(a.CompatiblePlans) == 0 || slices.Contains(a.CompatiblePlans, planID)
}

// UserAddonStatus is the lifecycle state of a purchased addon instance.
type UserAddonStatus string

const (
	UserAddonActive   UserAddonStatus = "active"
	UserAddonCanceled UserAddonStatus = "canceled"
	UserAddonExpired  UserAddonStatus = "expired"
)

// UserAddon is one purchased addon instance.
type UserAddon struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	AddonID     string
	Quantity    int
	Status      UserAddonStatus
	PeriodStart time.Time
	PeriodEnd   time.Time
	AutoRenew   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Contributes reports whether this purchase still adds to the user's limits.
func (ua UserAddon) Contributes() bool {
	return ua.Status == UserAddonActive
}
