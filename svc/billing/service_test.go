package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/dunning"
	"github.com/dmitrymomot/billingkit/pkg/entitlement"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/plan"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/webhook"
	"github.com/dmitrymomot/billingkit/svc/billing"
)

// fakeParser accepts the literal signature "valid" and returns the event
// preloaded by the test; anything else fails signature verification.
type fakeParser struct {
	ev *gateway.Event
}

func (f *fakeParser) ParseWebhook(ctx context.Context, payload []byte, signature string) (*gateway.Event, error) {
	if signature != "valid" {
		return nil, gateway.ErrInvalidSignature
	}
	return f.ev, nil
}

func newHarness(t *testing.T) (*webhook.Processor, *fakeParser, *subscription.Service, dunning.Store, http.Handler) {
	t.Helper()

	subs := subscription.NewService(subscription.NewMemoryStore())

	entStore := entitlement.NewMemoryStore()
	catalog, err := plan.NewCatalog(context.Background(), plan.DefaultSource())
	require.NoError(t, err)
	ent := entitlement.NewService(entStore, entStore, catalog)

	dunStore := dunning.NewMemoryStore()
	scheduler := dunning.NewScheduler(dunStore, subs, ent)

	parser := &fakeParser{}
	processor := webhook.NewProcessor(webhook.NewMemoryStore())
	svc := billing.New(billing.Config{GatewayName: "paddle"}, billing.Deps{
		Processor:     processor,
		Parser:        parser,
		Subscriptions: subs,
		Scheduler:     scheduler,
		Entitlements:  ent,
	})

	return processor, parser, subs, dunStore, svc.Router()
}

func postWebhook(t *testing.T, router http.Handler, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(`{}`))
	req.Header.Set("Paddle-Signature", signature)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleWebhook(t *testing.T) {
	t.Parallel()

	t.Run("rejects a bad signature", func(t *testing.T) {
		t.Parallel()

		_, _, _, _, router := newHarness(t)
		rec := postWebhook(t, router, "forged")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, false, decodeBody(t, rec)["success"])
	})

	t.Run("first payment activates a subscription", func(t *testing.T) {
		t.Parallel()

		_, parser, subs, _, router := newHarness(t)

		userID := uuid.New()
		parser.ev = &gateway.Event{
			EventID:        "evt_first",
			Type:           gateway.EventPaymentSucceeded,
			SubscriptionID: "sub_prov_1",
			UserID:         userID.String(),
			PaymentID:      "txn_1",
			Amount:         2900,
			Currency:       "USD",
			OccurredAt:     time.Now().UTC(),
			Raw:            map[string]any{"plan_id": "pro"},
		}

		rec := postWebhook(t, router, "valid")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, false, body["idempotent"])

		sub, err := subs.GetByProviderID(context.Background(), "sub_prov_1")
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.Equal(t, "pro", sub.PlanID)
		assert.Equal(t, userID, sub.UserID)
	})

	t.Run("redelivery is acknowledged without side effects", func(t *testing.T) {
		t.Parallel()

		_, parser, subs, _, router := newHarness(t)
		parser.ev = &gateway.Event{
			EventID:        "evt_dup",
			Type:           gateway.EventPaymentSucceeded,
			SubscriptionID: "sub_prov_2",
			UserID:         uuid.NewString(),
			Raw:            map[string]any{"plan_id": "pro"},
		}

		rec := postWebhook(t, router, "valid")
		require.Equal(t, http.StatusOK, rec.Code)

		rec = postWebhook(t, router, "valid")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decodeBody(t, rec)["idempotent"])

		sub, err := subs.GetByProviderID(context.Background(), "sub_prov_2")
		require.NoError(t, err)
		assert.Equal(t, sub.PeriodStart.Add(subscription.DefaultBillingCycle), sub.PeriodEnd,
			"duplicate must not renew the period")
	})

	t.Run("payment failure opens dunning and marks past due", func(t *testing.T) {
		t.Parallel()

		_, parser, subs, dunStore, router := newHarness(t)

		userID := uuid.New()
		parser.ev = &gateway.Event{
			EventID:        "evt_ok",
			Type:           gateway.EventPaymentSucceeded,
			SubscriptionID: "sub_prov_3",
			UserID:         userID.String(),
			OccurredAt:     time.Now().UTC(),
			Raw:            map[string]any{"plan_id": "pro"},
		}
		require.Equal(t, http.StatusOK, postWebhook(t, router, "valid").Code)

		parser.ev = &gateway.Event{
			EventID:        "evt_bad",
			Type:           gateway.EventPaymentFailed,
			SubscriptionID: "sub_prov_3",
			PaymentID:      "txn_failed",
			OccurredAt:     time.Now().UTC(),
		}
		require.Equal(t, http.StatusOK, postWebhook(t, router, "valid").Code)

		sub, err := subs.GetByProviderID(context.Background(), "sub_prov_3")
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPastDue, sub.Status)

		open, err := dunStore.ListOpenBySubscription(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Len(t, open, dunning.MaxAttempts)
	})

	t.Run("failure for an unknown subscription is acknowledged", func(t *testing.T) {
		t.Parallel()

		_, parser, _, _, router := newHarness(t)
		parser.ev = &gateway.Event{
			EventID:        "evt_orphan",
			Type:           gateway.EventPaymentFailed,
			SubscriptionID: "sub_never_seen",
		}
		assert.Equal(t, http.StatusOK, postWebhook(t, router, "valid").Code)
	})

	t.Run("retryable handler failure answers 5xx", func(t *testing.T) {
		t.Parallel()

		_, parser, _, _, router := newHarness(t)
		// A succeeded payment with a resolvable user but no plan metadata
		// cannot activate; the gateway should redeliver.
		parser.ev = &gateway.Event{
			EventID:        "evt_noplan",
			Type:           gateway.EventPaymentSucceeded,
			SubscriptionID: "sub_prov_4",
			UserID:         uuid.NewString(),
			Raw:            map[string]any{},
		}
		assert.Equal(t, http.StatusInternalServerError, postWebhook(t, router, "valid").Code)
	})

	t.Run("terminal handler failure is acknowledged", func(t *testing.T) {
		t.Parallel()

		processor, parser, _, _, router := newHarness(t)
		processor.RegisterHandler("ledger_reconciled", func(ctx context.Context, ev *webhook.Event) error {
			return errors.New("unknown ledger row")
		})
		parser.ev = &gateway.Event{
			EventID: "evt_terminal",
			Type:    gateway.EventType("ledger_reconciled"),
		}

		rec := postWebhook(t, router, "valid")
		require.Equal(t, http.StatusOK, rec.Code, "gateway must not redeliver a payload that can never succeed")
		assert.Equal(t, false, decodeBody(t, rec)["success"])

		// The failure is on record and the event stays re-runnable.
		ev, err := processor.Get(context.Background(), "evt_terminal")
		require.NoError(t, err)
		assert.Equal(t, webhook.StatusFailed, ev.Status)
	})

	t.Run("unknown event type is acknowledged as a no-op", func(t *testing.T) {
		t.Parallel()

		_, parser, _, _, router := newHarness(t)
		parser.ev = &gateway.Event{
			EventID: "evt_unknown",
			Type:    gateway.EventUnknown,
		}
		assert.Equal(t, http.StatusOK, postWebhook(t, router, "valid").Code)
	})
}

func TestRecoveryFlow(t *testing.T) {
	t.Parallel()

	_, parser, subs, dunStore, router := newHarness(t)

	userID := uuid.New()
	parser.ev = &gateway.Event{
		EventID:        "evt_activate",
		Type:           gateway.EventPaymentSucceeded,
		SubscriptionID: "sub_recover",
		UserID:         userID.String(),
		OccurredAt:     time.Now().UTC(),
		Raw:            map[string]any{"plan_id": "pro"},
	}
	require.Equal(t, http.StatusOK, postWebhook(t, router, "valid").Code)

	parser.ev = &gateway.Event{
		EventID:        "evt_charge_failed",
		Type:           gateway.EventPaymentFailed,
		SubscriptionID: "sub_recover",
		OccurredAt:     time.Now().UTC(),
	}
	require.Equal(t, http.StatusOK, postWebhook(t, router, "valid").Code)

	// A later successful charge closes the episode and reactivates.
	parser.ev = &gateway.Event{
		EventID:        "evt_recovered",
		Type:           gateway.EventPaymentSucceeded,
		SubscriptionID: "sub_recover",
		PaymentID:      "txn_recovered",
		OccurredAt:     time.Now().UTC(),
	}
	require.Equal(t, http.StatusOK, postWebhook(t, router, "valid").Code)

	sub, err := subs.GetByProviderID(context.Background(), "sub_recover")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, sub.Status)

	open, err := dunStore.ListOpenBySubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Empty(t, open, "recovery closes every open attempt")
}

func TestAdminEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("webhook event lookup and listing", func(t *testing.T) {
		t.Parallel()

		_, parser, _, _, router := newHarness(t)
		parser.ev = &gateway.Event{
			EventID: "evt_admin",
			Type:    gateway.EventUnknown,
		}
		require.Equal(t, http.StatusOK, postWebhook(t, router, "valid").Code)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/webhook-events/evt_admin", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var ev webhook.Event
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
		assert.Equal(t, "evt_admin", ev.EventID)
		assert.Equal(t, webhook.StatusProcessed, ev.Status)

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/webhook-events?status=processed", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "evt_admin")
	})

	t.Run("missing event answers 404", func(t *testing.T) {
		t.Parallel()

		_, _, _, _, router := newHarness(t)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/webhook-events/evt_missing", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/webhook-events/evt_missing/retry", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("user entitlements report limits and usage", func(t *testing.T) {
		t.Parallel()

		_, _, _, _, router := newHarness(t)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/users/"+uuid.NewString()+"/entitlements", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Limits struct {
				PlanID string `json:"PlanID"`
			} `json:"limits"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, plan.FreePlanID, body.Limits.PlanID, "users without a subscription resolve to free")

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/users/not-a-uuid/entitlements", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleCronDunning(t *testing.T) {
	t.Parallel()

	_, parser, _, _, router := newHarness(t)

	userID := uuid.New()
	parser.ev = &gateway.Event{
		EventID:        "evt_cron_activate",
		Type:           gateway.EventPaymentSucceeded,
		SubscriptionID: "sub_cron",
		UserID:         userID.String(),
		OccurredAt:     time.Now().UTC(),
		Raw:            map[string]any{"plan_id": "pro"},
	}
	require.Equal(t, http.StatusOK, postWebhook(t, router, "valid").Code)

	parser.ev = &gateway.Event{
		EventID:        "evt_cron_fail",
		Type:           gateway.EventPaymentFailed,
		SubscriptionID: "sub_cron",
		OccurredAt:     time.Now().UTC(),
	}
	require.Equal(t, http.StatusOK, postWebhook(t, router, "valid").Code)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cron/dunning", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats dunning.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Processed, "only the immediate attempt is due")
}
