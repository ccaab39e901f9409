package email_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/email"
)

type recordingSender struct {
	sent []email.SendEmailParams
	err  error
}

func (r *recordingSender) SendEmail(ctx context.Context, params email.SendEmailParams) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, params)
	return nil
}

func TestBillingMailer(t *testing.T) {
	t.Parallel()

	t.Run("failed payment alert carries retry date and pay link", func(t *testing.T) {
		t.Parallel()

		sender := &recordingSender{}
		m := email.NewBillingMailer(sender)

		err := m.SendFailedPaymentAlert(context.Background(), email.FailedPaymentAlert{
			SendTo:    "customer@example.com",
			PlanName:  "Pro",
			Amount:    2900,
			Currency:  "USD",
			RetryDate: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
			PayLink:   "https://pay.example.com/txn_1",
		})
		require.NoError(t, err)
		require.Len(t, sender.sent, 1)

		msg := sender.sent[0]
		assert.Equal(t, "customer@example.com", msg.SendTo)
		assert.Equal(t, "payment-failed", msg.Tag)
		assert.Contains(t, msg.BodyHTML, "29.00 USD")
		assert.Contains(t, msg.BodyHTML, "March 5, 2026")
		assert.Contains(t, msg.BodyHTML, "https://pay.example.com/txn_1")
	})

	t.Run("plan name is HTML escaped", func(t *testing.T) {
		t.Parallel()

		sender := &recordingSender{}
		m := email.NewBillingMailer(sender)

		err := m.SendSubscriptionCanceled(context.Background(), "customer@example.com", "<script>Pro</script>")
		require.NoError(t, err)
		require.Len(t, sender.sent, 1)
		assert.NotContains(t, sender.sent[0].BodyHTML, "<script>")
	})

	t.Run("payment confirmation mentions the new period end", func(t *testing.T) {
		t.Parallel()

		sender := &recordingSender{}
		m := email.NewBillingMailer(sender)

		periodEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
		err := m.SendPaymentConfirmation(context.Background(), "customer@example.com", "Pro", 2900, "USD", periodEnd)
		require.NoError(t, err)
		require.Len(t, sender.sent, 1)
		assert.Equal(t, "payment-confirmation", sender.sent[0].Tag)
		assert.Contains(t, sender.sent[0].BodyHTML, "April 1, 2026")
	})

	t.Run("panics on nil sender", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() { email.NewBillingMailer(nil) })
	})
}

func TestSendEmailParamsValidate(t *testing.T) {
	t.Parallel()

	valid := email.SendEmailParams{
		SendTo:   "user@example.com",
		Subject:  "Hello",
		BodyHTML: "<p>Hi</p>",
	}
	assert.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(*email.SendEmailParams){
		"missing recipient": func(p *email.SendEmailParams) { p.SendTo = "" },
		"bad recipient":     func(p *email.SendEmailParams) { p.SendTo = "not-an-email" },
		"missing subject":   func(p *email.SendEmailParams) { p.Subject = "" },
		"missing body":      func(p *email.SendEmailParams) { p.BodyHTML = "" },
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p := valid
			mutate(&p)
			assert.ErrorIs(t, p.Validate(), email.ErrInvalidParams)
		})
	}
}
