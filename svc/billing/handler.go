package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/dunning"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

// signatureHeader carries the gateway's webhook signature.
const signatureHeader = "Paddle-Signature"

// maxWebhookBody caps inbound payload size.
const maxWebhookBody = 1 << 20

// Router mounts the billing HTTP surface: the webhook endpoint, the cron
// trigger, and the admin API. Authentication for the admin and cron routes is
// the host application's concern; mount behind its middleware.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()

	r.Post("/webhooks/payment", s.handleWebhook)
	r.Post("/cron/dunning", s.handleCronDunning)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/webhook-events", s.handleListEvents)
		r.Get("/webhook-events/{eventID}", s.handleGetEvent)
		r.Post("/webhook-events/{eventID}/retry", s.handleRetryEvent)
		r.Get("/dunning-attempts", s.handleListAttempts)
		r.Get("/users/{userID}/entitlements", s.handleUserEntitlements)
	})

	return r
}

// handleWebhook is the gateway-facing boundary: verify, normalize, ingest.
// 400 means the delivery itself is bad and must not be retried; 500 asks the
// gateway to redeliver.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	ge, err := s.parser.ParseWebhook(r.Context(), body, r.Header.Get(signatureHeader))
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) || errors.Is(err, gateway.ErrInvalidPayload) {
			s.log.WarnContext(r.Context(), "webhook rejected at the boundary",
				slog.String("remote_ip", r.RemoteAddr),
				slog.Any("error", err))
			respondError(w, http.StatusBadRequest, "invalid webhook delivery")
			return
		}
		respondError(w, http.StatusInternalServerError, "webhook verification failed")
		return
	}

	// Store the normalized form so admin retries re-run without the original
	// signature.
	payload, err := json.Marshal(ge)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "event encoding failed")
		return
	}

	res, err := s.processor.Ingest(r.Context(), webhook.IngestInput{
		EventID:   ge.EventID,
		EventType: string(ge.Type),
		Payload:   payload,
		Source:    webhook.Source{Gateway: s.cfg.GatewayName, RemoteIP: r.RemoteAddr},
	})
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, "invalid event")
			return
		}
		// Transient failures answer 5xx so the gateway redelivers; the
		// idempotent claim makes the redelivery safe.
		if webhook.IsRetryable(err) {
			respondError(w, http.StatusInternalServerError, "event processing failed")
			return
		}
		// Terminal failure: recorded on the event and re-runnable through the
		// admin retry. Acknowledge so the gateway stops redelivering a payload
		// that can never succeed.
		s.log.ErrorContext(r.Context(), "webhook event failed terminally",
			slog.String("event_id", ge.EventID),
			slog.Any("error", err))
		respondJSON(w, http.StatusOK, map[string]any{
			"success":    false,
			"idempotent": res.Idempotent,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"idempotent": res.Idempotent,
	})
}

// handleCronDunning runs one dunning sweep and reports its stats. Intended
// for an external scheduler hitting it every 30-60 minutes; the worker lease
// makes overlapping invocations safe.
func (s *Service) handleCronDunning(w http.ResponseWriter, r *http.Request) {
	stats, err := s.scheduler.ProcessDue(r.Context())
	if err != nil {
		s.log.ErrorContext(r.Context(), "dunning sweep failed", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Service) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := webhook.Filter{
		Status:    webhook.Status(q.Get("status")),
		EventType: q.Get("event_type"),
		From:      parseTimeParam(q.Get("from")),
		To:        parseTimeParam(q.Get("to")),
		Limit:     parseIntParam(q.Get("limit"), s.cfg.AdminPageSize),
		Offset:    parseIntParam(q.Get("offset"), 0),
	}

	events, err := s.processor.List(r.Context(), f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Service) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.processor.Get(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		if errors.Is(err, webhook.ErrNotFound) {
			respondError(w, http.StatusNotFound, "event not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, ev)
}

// handleRetryEvent re-ingests a failed event through the normal idempotent
// path; already-processed events short-circuit harmlessly.
func (s *Service) handleRetryEvent(w http.ResponseWriter, r *http.Request) {
	res, err := s.processor.Retry(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		if errors.Is(err, webhook.ErrNotFound) {
			respondError(w, http.StatusNotFound, "event not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "retry failed")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Service) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := dunning.Filter{
		Status: dunning.AttemptStatus(q.Get("status")),
		From:   parseTimeParam(q.Get("from")),
		To:     parseTimeParam(q.Get("to")),
		Limit:  parseIntParam(q.Get("limit"), s.cfg.AdminPageSize),
		Offset: parseIntParam(q.Get("offset"), 0),
	}
	if v := q.Get("subscription_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid subscription_id")
			return
		}
		f.SubscriptionID = id
	}
	if v := q.Get("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		f.UserID = id
	}

	attempts, err := s.scheduler.List(r.Context(), f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

// handleUserEntitlements exposes the combined limits and current usage for
// support tooling.
func (s *Service) handleUserEntitlements(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	limits, err := s.ent.CalculateCombinedLimits(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "entitlement lookup failed")
		return
	}
	usage, err := s.ent.Usage(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "usage lookup failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"limits": limits,
		"usage":  usage,
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]any{"success": false, "error": msg})
}

func parseIntParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func parseTimeParam(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
