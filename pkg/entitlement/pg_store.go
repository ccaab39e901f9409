package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/plan"
)

// PostgresStore implements AddonStore and UsageStore on pgx. Every check is
// folded into the statement that acts on it: the quantity cap rides on an
// INSERT ... SELECT guard and check-and-consume is a single conditional
// UPDATE, so concurrent requests serialize on the row instead of racing a
// read-modify-write.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed entitlement store.
// Panics on nil pool to fail fast during initialization.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("entitlement: pgx pool is required")
	}
	return &PostgresStore{pool: pool}
}

func (ps *PostgresStore) GetAddon(ctx context.Context, addonID string) (*Addon, error) {
	row := ps.pool.QueryRow(ctx, `
		SELECT id, name, quota_type, quota_amount, compatible_plans, max_quantity,
			price_amount, price_currency
		FROM addons WHERE id = $1`, addonID)

	var a Addon
	err := row.Scan(&a.ID, &a.Name, &a.QuotaType, &a.QuotaAmount,
		&a.CompatiblePlans, &a.MaxQuantity, &a.Price.Amount, &a.Price.Currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAddonNotFound
		}
		return nil, err
	}
	return &a, nil
}

const userAddonColumns = `id, user_id, addon_id, quantity, status,
	period_start, period_end, auto_renew, created_at, updated_at`

func (ps *PostgresStore) ListActiveUserAddons(ctx context.Context, userID uuid.UUID) ([]*UserAddon, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT `+userAddonColumns+` FROM user_addons
		WHERE user_id = $1 AND status = 'active'
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*UserAddon
	for rows.Next() {
		var ua UserAddon
		if err := rows.Scan(&ua.ID, &ua.UserID, &ua.AddonID, &ua.Quantity, &ua.Status,
			&ua.PeriodStart, &ua.PeriodEnd, &ua.AutoRenew, &ua.CreatedAt, &ua.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &ua)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) CreateUserAddon(ctx context.Context, ua *UserAddon, maxQuantity int) error {
	// The SELECT re-checks the cap inside the insert itself. Zero rows
	// inserted means a concurrent purchase already filled the remaining
	// quantity.
	tag, err := ps.pool.Exec(ctx, `
		INSERT INTO user_addons (`+userAddonColumns+`)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		WHERE $11 <= 0 OR $4 + COALESCE((
			SELECT SUM(quantity) FROM user_addons
			WHERE user_id = $2 AND addon_id = $3 AND status = 'active'
		), 0) <= $11`,
		ua.ID, ua.UserID, ua.AddonID, ua.Quantity, ua.Status,
		ua.PeriodStart, ua.PeriodEnd, ua.AutoRenew, ua.CreatedAt, ua.UpdatedAt,
		maxQuantity,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMaxQuantityExceeded
	}
	return nil
}

func (ps *PostgresStore) SetUserAddonStatus(ctx context.Context, id uuid.UUID, status UserAddonStatus) error {
	tag, err := ps.pool.Exec(ctx, `
		UPDATE user_addons SET status = $2, updated_at = now() WHERE id = $1`,
		id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAddonNotFound
	}
	return nil
}

func (ps *PostgresStore) ExpireUserAddons(ctx context.Context, userID uuid.UUID, keep func(*UserAddon) bool) (int, error) {
	// The keep filter cannot run server-side, so select first and expire by
	// id. Purchases that flip status between the two statements are skipped
	// by the status guard on the UPDATE.
	active, err := ps.ListActiveUserAddons(ctx, userID)
	if err != nil {
		return 0, err
	}

	var ids []uuid.UUID
	for _, ua := range active {
		if keep != nil && keep(ua) {
			continue
		}
		ids = append(ids, ua.ID)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := ps.pool.Exec(ctx, `
		UPDATE user_addons SET status = 'expired', updated_at = now()
		WHERE id = ANY($1) AND status = 'active'`, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

const usageColumns = `user_id, cycle_start, cycle_end, api_hits_used,
	models_trained_today, storage_used_mb, labeling_files_used,
	last_daily_reset, updated_at`

func (ps *PostgresStore) Get(ctx context.Context, userID uuid.UUID) (*UsageRecord, error) {
	row := ps.pool.QueryRow(ctx, `
		SELECT `+usageColumns+` FROM usage_records WHERE user_id = $1`, userID)

	var rec UsageRecord
	err := row.Scan(&rec.UserID, &rec.CycleStart, &rec.CycleEnd, &rec.APIHitsUsed,
		&rec.ModelsTrainedToday, &rec.StorageUsedMB, &rec.LabelingFilesUsed,
		&rec.LastDailyReset, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUsageNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (ps *PostgresStore) Ensure(ctx context.Context, userID uuid.UUID, cycleStart, cycleEnd time.Time) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO usage_records (`+usageColumns+`)
		VALUES ($1, $2, $3, 0, 0, 0, 0, $4, now())
		ON CONFLICT (user_id) DO NOTHING`,
		userID, cycleStart, cycleEnd, truncateToDay(cycleStart))
	return err
}

// quotaColumn maps a quota type to its counter column. The column name is
// interpolated into SQL, so it must come from this closed set.
func quotaColumn(q plan.QuotaType) (string, bool) {
	switch q {
	case plan.QuotaAPIHitsPerMonth:
		return "api_hits_used", true
	case plan.QuotaModelsPerDay:
		return "models_trained_today", true
	case plan.QuotaStorageMB:
		return "storage_used_mb", true
	case plan.QuotaLabelingFilesPerMonth:
		return "labeling_files_used", true
	}
	return "", false
}

func (ps *PostgresStore) CheckAndConsume(ctx context.Context, userID uuid.UUID, q plan.QuotaType, amount, limit int64, today time.Time) (bool, error) {
	col, ok := quotaColumn(q)
	if !ok {
		return false, ErrInvalidParams
	}

	day := truncateToDay(today)
	if DailyQuota(q) {
		// Reset first under its own condition; at most one concurrent
		// request wins the reset, the rest see last_daily_reset already
		// advanced.
		if _, err := ps.pool.Exec(ctx, `
			UPDATE usage_records SET `+col+` = 0, last_daily_reset = $2, updated_at = now()
			WHERE user_id = $1 AND last_daily_reset < $2`, userID, day); err != nil {
			return false, err
		}
	}

	tag, err := ps.pool.Exec(ctx, `
		UPDATE usage_records SET `+col+` = `+col+` + $2, updated_at = now()
		WHERE user_id = $1 AND ($3 = -1 OR `+col+` + $2 <= $3)`,
		userID, amount, limit)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Zero rows is either an over-limit refusal or a missing record.
	var exists bool
	if err := ps.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM usage_records WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrUsageNotFound
	}
	return false, nil
}

func (ps *PostgresStore) RolloverDue(ctx context.Context, now time.Time, cycle time.Duration) (int, error) {
	tag, err := ps.pool.Exec(ctx, `
		UPDATE usage_records SET
			cycle_start = cycle_end,
			cycle_end = cycle_end + make_interval(secs => $2),
			api_hits_used = 0,
			models_trained_today = 0,
			storage_used_mb = 0,
			labeling_files_used = 0,
			last_daily_reset = $3,
			updated_at = now()
		WHERE cycle_end <= $1`,
		now, cycle.Seconds(), truncateToDay(now))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
