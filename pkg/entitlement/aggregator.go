package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/plan"
)

// PlanIDResolver returns the plan ID a user is entitled to right now.
// Implementations typically look up the live subscription; users without one
// are on the free plan.
type PlanIDResolver func(ctx context.Context, userID uuid.UUID) (string, error)

// CombinedLimits is the effective quota table for a user: base plan limits
// plus the sum of active addon contributions.
type CombinedLimits struct {
	PlanID             string
	Base               map[plan.QuotaType]int64
	AddonContributions map[plan.QuotaType]int64
	Total              map[plan.QuotaType]int64
}

// LimitFor returns the effective limit for a quota type, plan.Unlimited when
// the base plan is unlimited for it.
func (cl *CombinedLimits) LimitFor(q plan.QuotaType) int64 {
	if l, ok := cl.Total[q]; ok {
		return l
	}
	return 0
}

// Service aggregates plan limits, addon purchases, and usage counters into
// entitlement decisions.
type Service struct {
	addons  AddonStore
	usage   UsageStore
	catalog *plan.Catalog
	resolve PlanIDResolver
	log     *slog.Logger
	clock   func() time.Time
	cycle   time.Duration
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger for entitlement decisions.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithPlanResolver wires the subscription lookup. Without it every user
// resolves to the free plan.
func WithPlanResolver(r PlanIDResolver) Option {
	return func(s *Service) {
		if r != nil {
			s.resolve = r
		}
	}
}

// WithUsageCycle overrides the default 30-day usage cycle.
func WithUsageCycle(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.cycle = d
		}
	}
}

// DefaultUsageCycle matches the billing cycle: usage counters roll over every
// 30 days.
const DefaultUsageCycle = 30 * 24 * time.Hour

// NewService creates the entitlement service.
// Panics on nil stores or catalog to fail fast during initialization.
func NewService(addons AddonStore, usage UsageStore, catalog *plan.Catalog, opts ...Option) *Service {
	if addons == nil {
		panic("entitlement: AddonStore is required")
	}
	if usage == nil {
		panic("entitlement: UsageStore is required")
	}
	if catalog == nil {
		panic("entitlement: plan catalog is required")
	}
	s := &Service{
		addons:  addons,
		usage:   usage,
		catalog: catalog,
		resolve: func(context.Context, uuid.UUID) (string, error) { return plan.FreePlanID, nil },
		log:     slog.Default(),
		clock:   func() time.Time { return time.Now().UTC() },
		cycle:   DefaultUsageCycle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CalculateCombinedLimits resolves the user's plan and folds active addon
// quotas on top. An unlimited base limit stays unlimited regardless of
// addons.
func (s *Service) CalculateCombinedLimits(ctx context.Context, userID uuid.UUID) (*CombinedLimits, error) {
	planID, err := s.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	base, err := s.catalog.GetPlanLimits(planID)
	if err != nil {
		return nil, err
	}

	active, err := s.addons.ListActiveUserAddons(ctx, userID)
	if err != nil {
		return nil, err
	}

	contrib := make(map[plan.QuotaType]int64)
	for _, ua := range active {
		addon, err := s.addons.GetAddon(ctx, ua.AddonID)
		if err != nil {
			if errors.Is(err, ErrAddonNotFound) {
				// Purchase referencing a retired catalog entry contributes
				// nothing.
				s.log.WarnContext(ctx, "user addon references unknown catalog entry",
					slog.String("user_addon_id", ua.ID.String()),
					slog.String("addon_id", ua.AddonID))
				continue
			}
			return nil, err
		}
		contrib[addon.QuotaType] += addon.QuotaAmount * int64(ua.Quantity)
	}

	total := make(map[plan.QuotaType]int64, len(base))
	for q, l := range base {
		if l == plan.Unlimited {
			total[q] = plan.Unlimited
			continue
		}
		total[q] = l + contrib[q]
	}

	return &CombinedLimits{
		PlanID:             planID,
		Base:               base,
		AddonContributions: contrib,
		Total:              total,
	}, nil
}

// PurchaseAddonParams describes an addon purchase request.
type PurchaseAddonParams struct {
	UserID    uuid.UUID
	AddonID   string
	Quantity  int
	AutoRenew bool
}

// PurchaseAddon attaches an addon to the user's current plan. The quantity
// cap is enforced atomically by the store so concurrent purchases cannot
// oversell.
func (s *Service) PurchaseAddon(ctx context.Context, p PurchaseAddonParams) (*UserAddon, error) {
	if p.UserID == uuid.Nil || p.AddonID == "" || p.Quantity <= 0 {
		return nil, fmt.Errorf("%w: user ID, addon ID, and positive quantity are required", ErrInvalidParams)
	}

	addon, err := s.addons.GetAddon(ctx, p.AddonID)
	if err != nil {
		return nil, err
	}

	planID, err := s.resolve(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if !addon.CompatibleWith(planID) {
		return nil, fmt.Errorf("%w: %s does not attach to plan %s", ErrIncompatiblePlan, addon.ID, planID)
	}

	now := s.clock()
	ua := &UserAddon{
		ID:          uuid.New(),
		UserID:      p.UserID,
		AddonID:     addon.ID,
		Quantity:    p.Quantity,
		Status:      UserAddonActive,
		PeriodStart: now,
		PeriodEnd:   now.Add(s.cycle),
		AutoRenew:   p.AutoRenew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.addons.CreateUserAddon(ctx, ua, addon.MaxQuantity); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "addon purchased",
		slog.String("user_id", p.UserID.String()),
		slog.String("addon_id", addon.ID),
		slog.Int("quantity", p.Quantity))
	return ua, nil
}

// CancelAddon marks a purchased addon canceled; it stops contributing to
// limits immediately.
func (s *Service) CancelAddon(ctx context.Context, userAddonID uuid.UUID) error {
	return s.addons.SetUserAddonStatus(ctx, userAddonID, UserAddonCanceled)
}

// RevertToFree downgrades the user's entitlements to the free plan: active
// addons that cannot attach to free expire. Called when dunning exhausts or a
// subscription closes. Returns how many addons expired.
func (s *Service) RevertToFree(ctx context.Context, userID uuid.UUID) (int, error) {
	active, err := s.addons.ListActiveUserAddons(ctx, userID)
	if err != nil {
		return 0, err
	}

	// Resolve compatibility up front: stores may invoke the keep filter under
	// their own locks, so it must not call back into the store.
	compatible := make(map[string]bool, len(active))
	for _, ua := range active {
		if _, seen := compatible[ua.AddonID]; seen {
			continue
		}
		addon, err := s.addons.GetAddon(ctx, ua.AddonID)
		if err != nil {
			if errors.Is(err, ErrAddonNotFound) {
				// Retired catalog entry: nothing grants it on free either.
				compatible[ua.AddonID] = false
				continue
			}
			return 0, err
		}
		compatible[ua.AddonID] = addon.CompatibleWith(plan.FreePlanID)
	}

	expired, err := s.addons.ExpireUserAddons(ctx, userID, func(ua *UserAddon) bool {
		return compatible[ua.AddonID]
	})
	if err != nil {
		return 0, err
	}

	if expired > 0 {
		s.log.InfoContext(ctx, "entitlements reverted to free plan",
			slog.String("user_id", userID.String()),
			slog.Int("addons_expired", expired))
	}
	return expired, nil
}
