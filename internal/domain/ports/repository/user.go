package repository

import (
	"context"
	"time"

	"mobile-iap-subscription/internal/domain/model"
)

// UserRepository is the subset of the accounts module this service consumes.
type UserRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)

	// UpdateEntitlement overwrites both entitlement fields. A nil expiresAt
	// clears subscription_expires_at.
	UpdateEntitlement(ctx context.Context, tx Tx, userID string, tier model.AccountTier, expiresAt *time.Time) (*model.User, error)
}
