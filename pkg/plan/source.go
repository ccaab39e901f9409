package plan

import (
	"context"
	"errors"
	"fmt"
)

// Source defines how plans are loaded into the catalog.
type Source interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

// MemorySource serves a fixed plan set; used in tests and as the built-in
// default catalog.
type MemorySource struct {
	plans map[string]Plan
}

// NewMemorySource creates a source from a static plan map.
func NewMemorySource(plans map[string]Plan) *MemorySource {
	return &MemorySource{plans: plans}
}

// Load returns a copy of the configured plans.
func (s *MemorySource) Load(ctx context.Context) (map[string]Plan, error) {
	out := make(map[string]Plan, len(s.plans))
	for id, p := range s.plans {
		out[id] = p
	}
	return out, nil
}

// DefaultSource returns the built-in free/pro/advanced catalog.
func DefaultSource() *MemorySource {
	return NewMemorySource(map[string]Plan{
		FreePlanID: {
			ID:       FreePlanID,
			Name:     "Free",
			Interval: BillingIntervalNone,
			Public:   true,
			Limits: map[QuotaType]int64{
				QuotaAPIHitsPerMonth:       100,
				QuotaModelsPerDay:          1,
				QuotaStorageMB:             100,
				QuotaLabelingFilesPerMonth: 10,
			},
		},
		ProPlanID: {
			ID:       ProPlanID,
			Name:     "Pro",
			Interval: BillingIntervalMonthly,
			Public:   true,
			Price:    Money{Amount: 2900, Currency: "USD"},
			Limits: map[QuotaType]int64{
				QuotaAPIHitsPerMonth:       5000,
				QuotaModelsPerDay:          10,
				QuotaStorageMB:             5120,
				QuotaLabelingFilesPerMonth: 500,
			},
		},
		AdvancedPlanID: {
			ID:       AdvancedPlanID,
			Name:     "Advanced",
			Interval: BillingIntervalMonthly,
			Public:   true,
			Price:    Money{Amount: 9900, Currency: "USD"},
			Limits: map[QuotaType]int64{
				QuotaAPIHitsPerMonth:       50000,
				QuotaModelsPerDay:          100,
				QuotaStorageMB:             51200,
				QuotaLabelingFilesPerMonth: Unlimited,
			},
		},
	})
}

// Catalog serves plan lookups to the rest of the billing core.
type Catalog struct {
	plans map[string]Plan
}

// NewCatalog loads and validates plans from the given source.
// Panics if src is nil to fail fast during initialization.
func NewCatalog(ctx context.Context, src Source) (*Catalog, error) {
	if src == nil {
		panic("plan: Source is required")
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	if err := validatePlans(plans); err != nil {
		return nil, err
	}

	return &Catalog{plans: plans}, nil
}

// Get returns a plan by ID.
func (c *Catalog) Get(planID string) (Plan, error) {
	p, ok := c.plans[planID]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return p, nil
}

// GetPlanLimits returns the quota lookup table for a plan.
func (c *Catalog) GetPlanLimits(planID string) (map[QuotaType]int64, error) {
	p, ok := c.plans[planID]
	if !ok {
		return nil, ErrPlanNotFound
	}
	limits := make(map[QuotaType]int64, len(p.Limits))
	for q, l := range p.Limits {
		limits[q] = l
	}
	return limits, nil
}

// Has reports whether a plan ID exists in the catalog.
func (c *Catalog) Has(planID string) bool {
	_, ok := c.plans[planID]
	return ok
}

// validatePlans ensures plan configurations are internally consistent,
// catching common configuration errors before the service starts.
func validatePlans(plans map[string]Plan) error {
	if _, ok := plans[FreePlanID]; !ok {
		return errors.Join(ErrInvalidPlanConfiguration,
			fmt.Errorf("catalog must contain the %q downgrade target", FreePlanID))
	}

	for planID, p := range plans {
		if p.ID != planID {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan ID mismatch: map key %s != plan.ID %s", planID, p.ID))
		}
		for q, limit := range p.Limits {
			if limit < Unlimited {
				return errors.Join(ErrInvalidPlanConfiguration,
					fmt.Errorf("plan %s has invalid limit %d for %s", planID, limit, q))
			}
		}
	}
	return nil
}
