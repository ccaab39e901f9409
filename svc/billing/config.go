package billing

// Config holds the billing service settings.
type Config struct {
	// GatewayName labels stored webhook events with their origin.
	GatewayName string `env:"BILLING_GATEWAY_NAME" envDefault:"paddle"`

	// AdminPageSize caps admin listings when the request gives no limit.
	AdminPageSize int `env:"BILLING_ADMIN_PAGE_SIZE" envDefault:"50"`

	// RecoveryFallbackURL is the pay link used in recovery emails when the
	// gateway could not open a payment intent.
	RecoveryFallbackURL string `env:"BILLING_RECOVERY_FALLBACK_URL"`
}
