// Package email provides outbound email delivery for billing notifications.
//
// The EmailSender interface abstracts the transport (Postmark in production,
// a log-only sender in development). BillingMailer composes the concrete
// billing messages: failed-payment alerts with the next retry date, payment
// confirmations, and cancellation notices. Delivery is fire-and-forget from
// the dunning scheduler's perspective; failures are logged by the caller and
// never block the retry schedule.
package email
