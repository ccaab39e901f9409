package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"
)

// PostgresStore implements Store on pgx. The conditional transition is a
// single UPDATE guarded by `status = ANY($expect)`, and the one-live-
// subscription-per-user invariant is backed by a partial unique index in the
// migrations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed subscription store.
// Panics on nil pool to fail fast during initialization.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("subscription: pgx pool is required")
	}
	return &PostgresStore{pool: pool}
}

const subColumns = `id, user_id, plan_id, status, currency, amount,
	period_start, period_end, cancel_at_period_end, canceled_at,
	last_payment_at, next_billing_at, provider_sub_id, created_at, updated_at`

func (ps *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO subscriptions (`+subColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sub.ID, sub.UserID, sub.PlanID, sub.Status, sub.Currency, sub.Amount,
		sub.PeriodStart, sub.PeriodEnd, sub.CancelAtPeriodEnd, sub.CanceledAt,
		sub.LastPaymentAt, sub.NextBillingAt, nullable(sub.ProviderSubID),
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505 unique_violation: the partial index on live subscriptions.
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadySubscribed
		}
		return err
	}
	return nil
}

func (ps *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	row := ps.pool.QueryRow(ctx, `SELECT `+subColumns+` FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

func (ps *PostgresStore) GetLiveByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	row := ps.pool.QueryRow(ctx, `
		SELECT `+subColumns+` FROM subscriptions
		WHERE user_id = $1 AND status IN ('active', 'past_due', 'paused')
		ORDER BY created_at DESC LIMIT 1`, userID)
	return scanSubscription(row)
}

func (ps *PostgresStore) GetByProviderID(ctx context.Context, providerSubID string) (*Subscription, error) {
	if providerSubID == "" {
		return nil, ErrNotFound
	}
	row := ps.pool.QueryRow(ctx, `
		SELECT `+subColumns+` FROM subscriptions
		WHERE provider_sub_id = $1
		ORDER BY created_at DESC LIMIT 1`, providerSubID)
	return scanSubscription(row)
}

func (ps *PostgresStore) Transition(ctx context.Context, id uuid.UUID, expect []Status, upd Update) (*Subscription, error) {
	expectStrs := make([]string, len(expect))
	for i, s := range expect {
		expectStrs[i] = string(s)
	}

	row := ps.pool.QueryRow(ctx, `
		UPDATE subscriptions SET
			status = $3,
			period_start = COALESCE($4, period_start),
			period_end = COALESCE($5, period_end),
			cancel_at_period_end = COALESCE($6, cancel_at_period_end),
			canceled_at = COALESCE($7, canceled_at),
			last_payment_at = COALESCE($8, last_payment_at),
			next_billing_at = COALESCE($9, next_billing_at),
			updated_at = now()
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+subColumns,
		id, expectStrs, upd.Status,
		upd.PeriodStart, upd.PeriodEnd, upd.CancelAtPeriodEnd,
		upd.CanceledAt, upd.LastPaymentAt, upd.NextBillingAt,
	)

	sub, err := scanSubscription(row)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// Distinguish a missing row from a status mismatch so callers can treat
	// conflicts as benign no-ops.
	var exists bool
	if err := ps.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM subscriptions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrConflict
	}
	return nil, ErrNotFound
}

func (ps *PostgresStore) ListPeriodEnded(ctx context.Context, before time.Time) ([]*Subscription, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT `+subColumns+` FROM subscriptions
		WHERE status IN ('active', 'past_due', 'paused') AND period_end <= $1`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	var sub Subscription
	var providerSubID *string
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &sub.Status, &sub.Currency, &sub.Amount,
		&sub.PeriodStart, &sub.PeriodEnd, &sub.CancelAtPeriodEnd, &sub.CanceledAt,
		&sub.LastPaymentAt, &sub.NextBillingAt, &providerSubID,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if providerSubID != nil {
		sub.ProviderSubID = *providerSubID
	}
	return &sub, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
