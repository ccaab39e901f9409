package plan

// QuotaType represents a metered resource type counted per billing cycle.
type QuotaType string

const (
	QuotaAPIHitsPerMonth       QuotaType = "api_hits_per_month"
	QuotaModelsPerDay          QuotaType = "models_per_day"
	QuotaStorageMB             QuotaType = "storage_mb"
	QuotaLabelingFilesPerMonth QuotaType = "labeling_files_per_month"
)

// Unlimited indicates no limit for a quota (-1 chosen for SQL compatibility).
const Unlimited int64 = -1

// Well-known plan IDs. FreePlanID is the downgrade target when dunning
// exhausts all recovery attempts.
const (
	FreePlanID     = "free"
	ProPlanID      = "pro"
	AdvancedPlanID = "advanced"
)

// Money represents a monetary amount in the smallest currency unit.
// For example, $10.99 USD would be Amount: 1099, Currency: "USD".
type Money struct {
	Amount   int64  `yaml:"amount"`
	Currency string `yaml:"currency"`
}

// BillingInterval represents the billing frequency for a plan.
type BillingInterval string

const (
	BillingIntervalNone    BillingInterval = "none" // free plans with no billing
	BillingIntervalMonthly BillingInterval = "monthly"
	BillingIntervalAnnual  BillingInterval = "annual"
)

// Plan describes a subscription plan and its quota limits.
// The ID should match the payment provider's price ID for paid plans so
// webhook processing can map provider events back to a plan directly.
type Plan struct {
	ID              string              `yaml:"id"`
	Name            string              `yaml:"name"`
	Limits          map[QuotaType]int64 `yaml:"limits"` // -1 represents unlimited
	Price           Money               `yaml:"price"`
	Interval        BillingInterval     `yaml:"interval"`
	Public          bool                `yaml:"public"` // available for self-service signup
	ProviderPriceID string              `yaml:"provider_price_id,omitempty"`
}

// LimitFor returns the plan's limit for a quota type, 0 if the plan does not
// grant the quota at all.
func (p Plan) LimitFor(q QuotaType) int64 {
	limit, ok := p.Limits[q]
	if !ok {
		return 0
	}
	return limit
}
