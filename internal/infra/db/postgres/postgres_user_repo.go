package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"mobile-iap-subscription/internal/domain"
	"mobile-iap-subscription/internal/domain/model"
	"mobile-iap-subscription/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*userRepo)(nil)

// userRepo touches only the entitlement fields of the users table; the rest
// of the user record belongs to the accounts module.
type userRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *userRepo {
	return &userRepo{pool: pool}
}

const userColumns = `id, account_tier, subscription_expires_at, created_at, updated_at`

func (r *userRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanUser(row)
}

func (r *userRepo) UpdateEntitlement(ctx context.Context, tx repository.Tx, userID string, tier model.AccountTier, expiresAt *time.Time) (*model.User, error) {
	const q = `
UPDATE users SET
  account_tier            = $2,
  subscription_expires_at = $3,
  updated_at              = NOW()
 WHERE id = $1
RETURNING ` + userColumns + `;`

	row, err := pickRow(ctx, r.pool, tx, q, userID, tier, expiresAt)
	if err != nil {
		return nil, err
	}
	return scanUser(row)
}

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	var tier string
	if err := row.Scan(&u.ID, &tier, &u.SubscriptionExpiresAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	u.AccountTier = model.AccountTier(tier)
	return u, nil
}
