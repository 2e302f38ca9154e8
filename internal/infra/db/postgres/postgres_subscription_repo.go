package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"mobile-iap-subscription/internal/domain"
	"mobile-iap-subscription/internal/domain/model"
	"mobile-iap-subscription/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, user_id, platform, billing_key, status, expires_at, created_at, updated_at`

func (r *subscriptionRepo) Create(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (id, user_id, platform, billing_key, status, expires_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`

	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.UserID, s.Platform, s.BillingKey, s.Status, s.ExpiresAt, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidExecContext):
			return err
		case isUniqueViolation(err):
			return domain.ErrAlreadyExists
		default:
			return domain.ErrOperationFailed
		}
	}
	return nil
}

func (r *subscriptionRepo) Update(ctx context.Context, tx repository.Tx, id string, patch repository.SubscriptionPatch) (*model.Subscription, error) {
	const q = `
UPDATE subscriptions SET
  status     = COALESCE($2, status),
  expires_at = COALESCE($3, expires_at),
  updated_at = NOW()
 WHERE id = $1
RETURNING ` + subscriptionColumns + `;`

	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}
	row, err := pickRow(ctx, r.pool, tx, q, id, status, patch.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row)
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *subscriptionRepo) FindByBillingKey(ctx context.Context, tx repository.Tx, billingKey string) (*model.Subscription, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE billing_key = $1;`
	return r.queryOne(ctx, tx, q, billingKey)
}

func (r *subscriptionRepo) FindByUserID(ctx context.Context, tx repository.Tx, userID string) ([]*model.Subscription, error) {
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE user_id = $1
 ORDER BY created_at DESC;`
	return r.queryMany(ctx, tx, q, userID)
}

func (r *subscriptionRepo) FindExpired(ctx context.Context, tx repository.Tx, asOf time.Time) ([]*model.Subscription, error) {
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE status IN ('active','grace_period')
   AND expires_at <= $1
 ORDER BY expires_at ASC;`
	return r.queryMany(ctx, tx, q, asOf)
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM subscriptions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	counts := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.SubscriptionStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return counts, nil
}

func (r *subscriptionRepo) FindWebhookLog(ctx context.Context, tx repository.Tx, eventID string) (*model.WebhookLog, error) {
	const q = `
SELECT event_id, platform, event_type, billing_key, payload, processed_at
  FROM webhook_logs
 WHERE event_id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, eventID)
	if err != nil {
		return nil, err
	}

	l := &model.WebhookLog{}
	var platform, eventType string
	if err := row.Scan(&l.EventID, &platform, &eventType, &l.BillingKey, &l.Payload, &l.ProcessedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	l.Platform = model.Platform(platform)
	l.EventType = model.CanonicalEventType(eventType)
	return l, nil
}

// CreateWebhookLog seals one event id. The conflict-checked insert makes the
// unique constraint the authoritative duplicate signal without aborting the
// surrounding transaction.
func (r *subscriptionRepo) CreateWebhookLog(ctx context.Context, tx repository.Tx, l *model.WebhookLog) error {
	const q = `
INSERT INTO webhook_logs (event_id, platform, event_type, billing_key, payload, processed_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (event_id) DO NOTHING;`

	cmd, err := execSQL(ctx, r.pool, tx, q, l.EventID, l.Platform, l.EventType, l.BillingKey, l.Payload, l.ProcessedAt)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidExecContext):
			return err
		default:
			return domain.ErrOperationFailed
		}
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...interface{}) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row)
}

func (r *subscriptionRepo) queryMany(ctx context.Context, tx repository.Tx, sql string, args ...interface{}) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, sql, args...)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidExecContext):
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*model.Subscription, error) {
	s := &model.Subscription{}
	var platform, status string
	if err := row.Scan(&s.ID, &s.UserID, &platform, &s.BillingKey, &status, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	s.Platform = model.Platform(platform)
	s.Status = model.SubscriptionStatus(status)
	return s, nil
}
