package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/dunning"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

// decodeEvent unpacks the normalized gateway event stored as the webhook
// payload. Payloads are written by the HTTP boundary after signature
// verification, so a decode failure is a permanent error, not a retryable
// one.
func decodeEvent(ev *webhook.Event) (*gateway.Event, error) {
	var ge gateway.Event
	if err := json.Unmarshal(ev.Payload, &ge); err != nil {
		return nil, fmt.Errorf("malformed stored event payload: %w", err)
	}
	return &ge, nil
}

// handlePaymentFailed moves the subscription into the grace state and opens
// (or advances) its dunning episode.
func (s *Service) handlePaymentFailed(ctx context.Context, ev *webhook.Event) error {
	ge, err := decodeEvent(ev)
	if err != nil {
		return err
	}

	sub, err := s.subs.GetByProviderID(ctx, ge.SubscriptionID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			s.log.WarnContext(ctx, "payment failed for unknown subscription",
				slog.String("provider_sub_id", ge.SubscriptionID),
				slog.String("event_id", ge.EventID))
			return nil
		}
		return webhook.Retryable(err)
	}

	// Already past_due mid-episode is the expected state for retry failures.
	if _, err := s.subs.MarkPastDue(ctx, sub.ID); err != nil && !errors.Is(err, subscription.ErrConflict) {
		return webhook.Retryable(err)
	}

	if err := s.scheduler.StartEpisode(ctx, dunning.StartEpisodeParams{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		PaymentRef:     ge.PaymentID,
		FailedAt:       ge.OccurredAt,
	}); err != nil {
		return webhook.Retryable(err)
	}
	return nil
}

// handlePaymentSucceeded closes an in-flight dunning episode, renews an
// active subscription, or activates a new one, in that order of precedence.
func (s *Service) handlePaymentSucceeded(ctx context.Context, ev *webhook.Event) error {
	ge, err := decodeEvent(ev)
	if err != nil {
		return err
	}

	sub, err := s.subs.GetByProviderID(ctx, ge.SubscriptionID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			return s.activateFromEvent(ctx, ge)
		}
		return webhook.Retryable(err)
	}

	closed, err := s.scheduler.MarkSuccess(ctx, sub.ID, ge.PaymentID)
	if err != nil {
		return webhook.Retryable(err)
	}
	if closed > 0 {
		return nil // episode recovered, subscription already back to active
	}

	if sub.Status.Terminal() {
		return s.activateFromEvent(ctx, ge)
	}

	if _, err := s.subs.Renew(ctx, sub.ID); err != nil && !errors.Is(err, subscription.ErrConflict) {
		return webhook.Retryable(err)
	}
	return nil
}

// activateFromEvent creates a subscription from a first-payment event.
func (s *Service) activateFromEvent(ctx context.Context, ge *gateway.Event) error {
	userID, err := uuid.Parse(ge.UserID)
	if err != nil {
		s.log.WarnContext(ctx, "payment succeeded without a resolvable user ID",
			slog.String("event_id", ge.EventID),
			slog.String("user_id", ge.UserID))
		return nil
	}

	planID := planIDFromEvent(ge)
	_, err = s.subs.Activate(ctx, subscription.ActivateParams{
		UserID:        userID,
		PlanID:        planID,
		Amount:        ge.Amount,
		Currency:      ge.Currency,
		ProviderSubID: ge.SubscriptionID,
		PaidAt:        ge.OccurredAt,
	})
	if err != nil {
		if errors.Is(err, subscription.ErrAlreadySubscribed) {
			// A live subscription under a different provider ID; an operator
			// problem, not a delivery problem.
			s.log.WarnContext(ctx, "activation skipped, conflicting live subscription",
				slog.String("user_id", userID.String()),
				slog.String("provider_sub_id", ge.SubscriptionID))
			return nil
		}
		return webhook.Retryable(err)
	}
	return nil
}

// planIDFromEvent extracts the purchased plan from event metadata; provider
// adapters put the price/plan identifier in Raw.
func planIDFromEvent(ge *gateway.Event) string {
	if v, ok := ge.Raw["plan_id"].(string); ok && v != "" {
		return v
	}
	if v, ok := ge.Raw["price_id"].(string); ok && v != "" {
		return v
	}
	return ""
}

// handleSubscriptionRenewed extends the period on a scheduled auto-charge.
func (s *Service) handleSubscriptionRenewed(ctx context.Context, ev *webhook.Event) error {
	ge, err := decodeEvent(ev)
	if err != nil {
		return err
	}

	sub, err := s.subs.GetByProviderID(ctx, ge.SubscriptionID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			s.log.WarnContext(ctx, "renewal for unknown subscription",
				slog.String("provider_sub_id", ge.SubscriptionID))
			return nil
		}
		return webhook.Retryable(err)
	}

	if _, err := s.subs.Renew(ctx, sub.ID); err != nil && !errors.Is(err, subscription.ErrConflict) {
		return webhook.Retryable(err)
	}
	return nil
}

// handleSubscriptionCanceled closes the subscription and drops entitlements
// to the free plan.
func (s *Service) handleSubscriptionCanceled(ctx context.Context, ev *webhook.Event) error {
	ge, err := decodeEvent(ev)
	if err != nil {
		return err
	}

	sub, err := s.subs.GetByProviderID(ctx, ge.SubscriptionID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			return nil
		}
		return webhook.Retryable(err)
	}

	if _, err := s.subs.CancelNow(ctx, sub.ID); err != nil && !errors.Is(err, subscription.ErrConflict) {
		return webhook.Retryable(err)
	}
	if _, err := s.ent.RevertToFree(ctx, sub.UserID); err != nil {
		return webhook.Retryable(err)
	}
	return nil
}

// handleSubscriptionPaused suspends the subscription.
func (s *Service) handleSubscriptionPaused(ctx context.Context, ev *webhook.Event) error {
	return s.transitionByProviderID(ctx, ev, s.subs.Pause)
}

// handleSubscriptionResumed reactivates a paused subscription.
func (s *Service) handleSubscriptionResumed(ctx context.Context, ev *webhook.Event) error {
	return s.transitionByProviderID(ctx, ev, s.subs.Resume)
}

func (s *Service) transitionByProviderID(ctx context.Context, ev *webhook.Event, fn func(context.Context, uuid.UUID) (*subscription.Subscription, error)) error {
	ge, err := decodeEvent(ev)
	if err != nil {
		return err
	}

	sub, err := s.subs.GetByProviderID(ctx, ge.SubscriptionID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			return nil
		}
		return webhook.Retryable(err)
	}

	if _, err := fn(ctx, sub.ID); err != nil && !errors.Is(err, subscription.ErrConflict) {
		return webhook.Retryable(err)
	}
	return nil
}
