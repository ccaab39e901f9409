package billing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/dunning"
	"github.com/dmitrymomot/billingkit/pkg/email"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/plan"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// UserEmailResolver maps a user ID to their billing email. The host
// application owns the user directory, so resolution is injected.
type UserEmailResolver func(ctx context.Context, userID uuid.UUID) (string, error)

// RecoveryNotifier implements dunning.Notifier with the billing mailer.
type RecoveryNotifier struct {
	mailer      *email.BillingMailer
	resolve     UserEmailResolver
	subs        *subscription.Service
	catalog     *plan.Catalog
	attempts    dunning.Store
	fallbackURL string
}

// NewRecoveryNotifier creates the notifier used by the dunning sweep.
// Panics on missing dependencies to fail fast during initialization.
func NewRecoveryNotifier(mailer *email.BillingMailer, resolve UserEmailResolver, subs *subscription.Service, catalog *plan.Catalog, attempts dunning.Store, fallbackURL string) *RecoveryNotifier {
	if mailer == nil {
		panic("billing: billing mailer is required")
	}
	if resolve == nil {
		panic("billing: user email resolver is required")
	}
	if subs == nil {
		panic("billing: subscription service is required")
	}
	if catalog == nil {
		panic("billing: plan catalog is required")
	}
	if attempts == nil {
		panic("billing: dunning store is required")
	}
	return &RecoveryNotifier{
		mailer:      mailer,
		resolve:     resolve,
		subs:        subs,
		catalog:     catalog,
		attempts:    attempts,
		fallbackURL: fallbackURL,
	}
}

// SendRecoveryNotice emails the failed-payment alert for one claimed attempt.
func (n *RecoveryNotifier) SendRecoveryNotice(ctx context.Context, attempt *dunning.Attempt, payLink string) error {
	sendTo, err := n.resolve(ctx, attempt.UserID)
	if err != nil {
		return fmt.Errorf("resolve user email: %w", err)
	}

	sub, err := n.subs.Get(ctx, attempt.SubscriptionID)
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}

	planName := sub.PlanID
	if p, err := n.catalog.Get(sub.PlanID); err == nil {
		planName = p.Name
	}

	alert := email.FailedPaymentAlert{
		SendTo:   sendTo,
		PlanName: planName,
		Amount:   sub.Amount,
		Currency: sub.Currency,
		PayLink:  payLink,
	}
	if alert.PayLink == "" {
		alert.PayLink = n.fallbackURL
	}

	// The retry date shown to the customer is the next pending slot; the
	// final notice shows its own date.
	alert.RetryDate = attempt.ScheduledAt
	open, err := n.attempts.ListOpenBySubscription(ctx, attempt.SubscriptionID)
	if err == nil {
		for _, a := range open {
			if a.Status == dunning.StatusPending && a.AttemptNumber > attempt.AttemptNumber {
				alert.RetryDate = a.ScheduledAt
				break
			}
		}
	}

	return n.mailer.SendFailedPaymentAlert(ctx, alert)
}

// RecoveryIntents implements dunning.IntentCreator: it resolves the user's
// current plan to the provider price and opens a fresh payment attempt.
type RecoveryIntents struct {
	gw      gateway.Client
	subs    *subscription.Service
	catalog *plan.Catalog
	resolve UserEmailResolver
	log     *slog.Logger
}

// NewRecoveryIntents creates the intent adapter used by the dunning sweep.
// Panics on missing dependencies to fail fast during initialization.
func NewRecoveryIntents(gw gateway.Client, subs *subscription.Service, catalog *plan.Catalog, resolve UserEmailResolver, log *slog.Logger) *RecoveryIntents {
	if gw == nil {
		panic("billing: gateway client is required")
	}
	if subs == nil {
		panic("billing: subscription service is required")
	}
	if catalog == nil {
		panic("billing: plan catalog is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &RecoveryIntents{gw: gw, subs: subs, catalog: catalog, resolve: resolve, log: log}
}

// CreateRecoveryIntent opens a payment attempt for the plan the subscription
// is on. The charge outcome arrives later as a webhook.
func (ri *RecoveryIntents) CreateRecoveryIntent(ctx context.Context, attempt *dunning.Attempt) (gateway.PaymentIntent, error) {
	sub, err := ri.subs.Get(ctx, attempt.SubscriptionID)
	if err != nil {
		return gateway.PaymentIntent{}, fmt.Errorf("load subscription: %w", err)
	}

	p, err := ri.catalog.Get(sub.PlanID)
	if err != nil {
		return gateway.PaymentIntent{}, fmt.Errorf("resolve plan: %w", err)
	}

	priceID := p.ProviderPriceID
	if priceID == "" {
		priceID = p.ID // plan IDs double as provider price IDs by convention
	}

	req := gateway.PaymentIntentRequest{
		PriceID:    priceID,
		CustomerID: attempt.UserID.String(),
	}
	if ri.resolve != nil {
		if addr, err := ri.resolve(ctx, attempt.UserID); err == nil {
			req.Email = addr
		}
	}

	return ri.gw.CreatePaymentIntent(ctx, req)
}
