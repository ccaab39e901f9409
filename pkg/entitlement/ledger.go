package entitlement

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/plan"
)

// CheckAndConsume verifies the user may consume amount units of the quota and
// records the consumption in one atomic step. Returns false when the combined
// limit would be exceeded; the counters stay untouched in that case.
func (s *Service) CheckAndConsume(ctx context.Context, userID uuid.UUID, q plan.QuotaType, amount int64) (bool, error) {
	if userID == uuid.Nil || amount <= 0 {
		return false, ErrInvalidParams
	}

	limits, err := s.CalculateCombinedLimits(ctx, userID)
	if err != nil {
		return false, err
	}
	limit := limits.LimitFor(q)

	now := s.clock()
	ok, err := s.usage.CheckAndConsume(ctx, userID, q, amount, limit, now)
	if err != nil {
		if errors.Is(err, ErrUsageNotFound) {
			// First consumption this cycle: create the record and retry once.
			if err := s.usage.Ensure(ctx, userID, now, now.Add(s.cycle)); err != nil {
				return false, err
			}
			ok, err = s.usage.CheckAndConsume(ctx, userID, q, amount, limit, now)
		}
		if err != nil {
			return false, err
		}
	}

	if !ok {
		s.log.InfoContext(ctx, "quota exceeded",
			slog.String("user_id", userID.String()),
			slog.String("quota", string(q)),
			slog.Int64("requested", amount),
			slog.Int64("limit", limit))
	}
	return ok, nil
}

// Usage returns the user's current-cycle counters. Users who never consumed
// anything get a zeroed record rather than an error.
func (s *Service) Usage(ctx context.Context, userID uuid.UUID) (*UsageRecord, error) {
	rec, err := s.usage.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUsageNotFound) {
			now := s.clock()
			return &UsageRecord{
				UserID:         userID,
				CycleStart:     now,
				CycleEnd:       now.Add(s.cycle),
				LastDailyReset: truncateToDay(now),
			}, nil
		}
		return nil, err
	}
	return rec, nil
}

// RolloverDue resets counters for records whose cycle ended. Intended to run
// from the periodic maintenance sweep.
func (s *Service) RolloverDue(ctx context.Context) (int, error) {
	rolled, err := s.usage.RolloverDue(ctx, s.clock(), s.cycle)
	if err != nil {
		return 0, err
	}
	if rolled > 0 {
		s.log.InfoContext(ctx, "usage cycles rolled over", slog.Int("records", rolled))
	}
	return rolled, nil
}
