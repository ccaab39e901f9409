package email

import (
	"context"
	"fmt"
	"html"
	"time"
)

// BillingMailer composes and sends billing lifecycle notifications.
// All methods validate input but leave delivery errors to the caller, which
// is expected to log and move on rather than retry.
type BillingMailer struct {
	sender EmailSender
}

// NewBillingMailer creates a mailer on top of any EmailSender.
// Panics on nil sender to fail fast during initialization.
func NewBillingMailer(sender EmailSender) *BillingMailer {
	if sender == nil {
		panic("email: EmailSender is required")
	}
	return &BillingMailer{sender: sender}
}

// FailedPaymentAlert contains everything needed to tell a customer their
// charge failed and when the next attempt happens.
type FailedPaymentAlert struct {
	SendTo    string
	PlanName  string
	Amount    int64  // smallest currency unit
	Currency  string // ISO 4217 code
	RetryDate time.Time
	PayLink   string // link to update payment method / pay manually
}

// SendFailedPaymentAlert notifies the customer that a recurring charge failed
// and that service enters a grace period until the retry date.
func (m *BillingMailer) SendFailedPaymentAlert(ctx context.Context, alert FailedPaymentAlert) error {
	body := fmt.Sprintf(
		`<h2>Payment failed</h2>
<p>We could not process your payment of %s for the <strong>%s</strong> plan.</p>
<p>We will retry automatically on <strong>%s</strong>. Your subscription stays active until then.</p>
<p><a href="%s">Update your payment method</a> to avoid any interruption.</p>`,
		formatAmount(alert.Amount, alert.Currency),
		html.EscapeString(alert.PlanName),
		alert.RetryDate.Format("January 2, 2006"),
		html.EscapeString(alert.PayLink),
	)

	return m.sender.SendEmail(ctx, SendEmailParams{
		SendTo:   alert.SendTo,
		Subject:  "Action needed: your payment failed",
		BodyHTML: body,
		Tag:      "payment-failed",
	})
}

// SendPaymentConfirmation confirms a successful charge and the new period end.
func (m *BillingMailer) SendPaymentConfirmation(ctx context.Context, sendTo, planName string, amount int64, currency string, periodEnd time.Time) error {
	body := fmt.Sprintf(
		`<h2>Payment received</h2>
<p>Thanks! Your payment of %s for the <strong>%s</strong> plan went through.</p>
<p>Your subscription is active until %s.</p>`,
		formatAmount(amount, currency),
		html.EscapeString(planName),
		periodEnd.Format("January 2, 2006"),
	)

	return m.sender.SendEmail(ctx, SendEmailParams{
		SendTo:   sendTo,
		Subject:  "Payment confirmation",
		BodyHTML: body,
		Tag:      "payment-confirmation",
	})
}

// SendSubscriptionCanceled notifies the customer their subscription ended
// after payment recovery was exhausted or on explicit cancellation.
func (m *BillingMailer) SendSubscriptionCanceled(ctx context.Context, sendTo, planName string) error {
	body := fmt.Sprintf(
		`<h2>Subscription canceled</h2>
<p>Your <strong>%s</strong> subscription has been canceled and your account moved to the free plan.</p>
<p>You can resubscribe at any time from your account settings.</p>`,
		html.EscapeString(planName),
	)

	return m.sender.SendEmail(ctx, SendEmailParams{
		SendTo:   sendTo,
		Subject:  "Your subscription was canceled",
		BodyHTML: body,
		Tag:      "subscription-canceled",
	})
}

func formatAmount(amount int64, currency string) string {
	return fmt.Sprintf("%.2f %s", float64(amount)/100, currency)
}
