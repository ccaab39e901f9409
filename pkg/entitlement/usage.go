package entitlement

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/plan"
)

// UsageRecord holds a user's consumption counters for the current billing
// cycle. Counters are non-negative and reset exactly once per cycle/day
// boundary crossing, never more than once even under concurrent access —
// the stores guarantee that with conditional writes.
type UsageRecord struct {
	UserID             uuid.UUID
	CycleStart         time.Time
	CycleEnd           time.Time
	APIHitsUsed        int64
	ModelsTrainedToday int64
	StorageUsedMB      int64
	LabelingFilesUsed  int64
	LastDailyReset     time.Time // date of the last daily-counter reset
	UpdatedAt          time.Time
}

// UsedFor returns the counter tracking the given quota type.
func (u *UsageRecord) UsedFor(q plan.QuotaType) int64 {
	switch q {
	case plan.QuotaAPIHitsPerMonth:
		return u.APIHitsUsed
	case plan.QuotaModelsPerDay:
		return u.ModelsTrainedToday
	case plan.QuotaStorageMB:
		return u.StorageUsedMB
	case plan.QuotaLabelingFilesPerMonth:
		return u.LabelingFilesUsed
	}
	return 0
}

// DailyQuota reports whether the quota type resets per day rather than per
// billing cycle.
func DailyQuota(q plan.QuotaType) bool {
	return q == plan.QuotaModelsPerDay
}
