package repository

import (
	"context"
	"time"

	"mobile-iap-subscription/internal/domain/model"
)

// SubscriptionPatch carries the mutable subset of a subscription for partial
// updates. Nil fields are left untouched.
type SubscriptionPatch struct {
	Status    *model.SubscriptionStatus
	ExpiresAt *time.Time
}

// SubscriptionRepository is the port for subscription records and the webhook
// idempotency ledger. Create and CreateWebhookLog must surface a racing
// duplicate insert as domain.ErrAlreadyExists: the storage-layer unique
// constraints on billing_key and event_id are the authoritative guards.
type SubscriptionRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	FindByUserID(ctx context.Context, tx Tx, userID string) ([]*model.Subscription, error)
	FindByBillingKey(ctx context.Context, tx Tx, billingKey string) (*model.Subscription, error)
	FindExpired(ctx context.Context, tx Tx, asOf time.Time) ([]*model.Subscription, error)
	Create(ctx context.Context, tx Tx, sub *model.Subscription) error
	Update(ctx context.Context, tx Tx, id string, patch SubscriptionPatch) (*model.Subscription, error)

	CountByStatus(ctx context.Context, tx Tx) (map[model.SubscriptionStatus]int, error)

	FindWebhookLog(ctx context.Context, tx Tx, eventID string) (*model.WebhookLog, error)
	CreateWebhookLog(ctx context.Context, tx Tx, log *model.WebhookLog) error
}
