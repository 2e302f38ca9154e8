// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"mobile-iap-subscription/internal/domain"
	"mobile-iap-subscription/internal/domain/model"
	"mobile-iap-subscription/internal/domain/ports/repository"
	"mobile-iap-subscription/internal/infra/metrics"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

// VerifyInput is a client-initiated purchase verification request.
type VerifyInput struct {
	Platform   model.Platform
	Receipt    string
	BillingKey string
	ProductID  string
	UserID     string
}

// RestoreInput re-attaches an existing subscription to the requesting user.
// Receipt is optional; when present the stored expiry is revalidated.
type RestoreInput struct {
	Platform   model.Platform
	BillingKey string
	Receipt    string
	UserID     string
}

// EntitlementView is the refreshed subscription + user pair returned to the
// HTTP layer after a successful verify/restore.
type EntitlementView struct {
	Subscription *model.Subscription
	User         *model.User
}

// EntitlementStatus is the read-only answer to "what does this user hold".
type EntitlementStatus struct {
	User          *model.User
	Subscriptions []*model.Subscription
}

type SubscriptionUseCase interface {
	// Verify validates a receipt with the platform store and upserts the
	// subscription keyed by billing key.
	Verify(ctx context.Context, in VerifyInput) (*EntitlementView, error)
	// Restore re-activates a known billing key for the requesting user,
	// tolerating a failed revalidation by requiring the stored expiry to
	// still be in the future.
	Restore(ctx context.Context, in RestoreInput) (*EntitlementView, error)
	// Entitlement reads the user's current tier and subscription records
	// without contacting any store.
	Entitlement(ctx context.Context, userID string) (*EntitlementStatus, error)
	// FinishExpired marks lapsed subscriptions expired and downgrades their
	// owners. Driven by the sweep worker, not by request traffic.
	FinishExpired(ctx context.Context) (int, error)
}

type subscriptionUC struct {
	registry *ValidatorRegistry
	subs     repository.SubscriptionRepository
	users    repository.UserRepository
	tm       repository.TransactionManager
	log      *zerolog.Logger
}

func NewSubscriptionUseCase(
	registry *ValidatorRegistry,
	subs repository.SubscriptionRepository,
	users repository.UserRepository,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *subscriptionUC {
	l := logger.With().Str("component", "SubscriptionUC").Logger()
	return &subscriptionUC{registry: registry, subs: subs, users: users, tm: tm, log: &l}
}

func (uc *subscriptionUC) Verify(ctx context.Context, in VerifyInput) (*EntitlementView, error) {
	validator, err := uc.registry.Resolve(in.Platform)
	if err != nil {
		return nil, err
	}

	res, err := validator.ValidateReceipt(ctx, in.Receipt, in.BillingKey, in.ProductID)
	if err != nil {
		metrics.IncReceiptValidation(string(in.Platform), "invalid")
		return nil, err
	}
	metrics.IncReceiptValidation(string(in.Platform), "ok")

	var view EntitlementView
	err = uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		sub, err := uc.upsertActive(ctx, tx, in, res.ExpiresAt)
		if err != nil {
			return err
		}
		user, err := uc.users.UpdateEntitlement(ctx, tx, in.UserID, model.AccountTierPremium, &res.ExpiresAt)
		if err != nil {
			return err
		}
		view.Subscription, view.User = sub, user
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.log.Info().
		Str("platform", string(in.Platform)).
		Str("billing_key", in.BillingKey).
		Str("user_id", in.UserID).
		Time("expires_at", res.ExpiresAt).
		Msg("receipt verified")
	return &view, nil
}

// upsertActive writes the one subscription row for a billing key. A racing
// create that trips the unique constraint falls back to the update path.
func (uc *subscriptionUC) upsertActive(ctx context.Context, tx repository.Tx, in VerifyInput, expiresAt time.Time) (*model.Subscription, error) {
	existing, err := uc.subs.FindByBillingKey(ctx, tx, in.BillingKey)
	switch {
	case err == nil:
		return uc.activate(ctx, tx, existing.ID, expiresAt)
	case errors.Is(err, domain.ErrNotFound):
		sub, err := model.NewSubscription(uuid.NewString(), in.UserID, in.Platform, in.BillingKey, expiresAt)
		if err != nil {
			return nil, err
		}
		if err := uc.subs.Create(ctx, tx, sub); err == nil {
			return sub, nil
		} else if !errors.Is(err, domain.ErrAlreadyExists) {
			return nil, err
		}
		// lost the insert race; the row exists now
		existing, err = uc.subs.FindByBillingKey(ctx, tx, in.BillingKey)
		if err != nil {
			return nil, err
		}
		return uc.activate(ctx, tx, existing.ID, expiresAt)
	default:
		return nil, err
	}
}

func (uc *subscriptionUC) activate(ctx context.Context, tx repository.Tx, id string, expiresAt time.Time) (*model.Subscription, error) {
	status := model.SubscriptionStatusActive
	return uc.subs.Update(ctx, tx, id, repository.SubscriptionPatch{Status: &status, ExpiresAt: &expiresAt})
}

func (uc *subscriptionUC) Restore(ctx context.Context, in RestoreInput) (*EntitlementView, error) {
	sub, err := uc.subs.FindByBillingKey(ctx, repository.NoTX, in.BillingKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNoActiveSubscription
		}
		return nil, err
	}

	expiresAt := sub.ExpiresAt
	isActive := expiresAt.After(time.Now())

	if in.Receipt != "" {
		validator, err := uc.registry.Resolve(in.Platform)
		if err != nil {
			return nil, err
		}
		// Restore tolerates a store outage: a failed revalidation degrades to
		// the stored record instead of surfacing the validator's error.
		res, err := validator.ValidateReceipt(ctx, in.Receipt, in.BillingKey, "")
		if err != nil {
			metrics.IncReceiptValidation(string(in.Platform), "invalid")
			isActive = false
		} else {
			metrics.IncReceiptValidation(string(in.Platform), "ok")
			expiresAt = res.ExpiresAt
			isActive = expiresAt.After(time.Now())
		}
	}

	if !isActive {
		return nil, domain.ErrSubscriptionExpired
	}

	if sub.UserID != in.UserID {
		// Entitlement deliberately follows whoever restores a valid billing
		// key (device transfer); flagged for product review.
		uc.log.Warn().
			Str("billing_key", in.BillingKey).
			Str("owner_user_id", sub.UserID).
			Str("requesting_user_id", in.UserID).
			Msg("restore reassigns entitlement to requesting user")
	}

	var view EntitlementView
	err = uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		updated, err := uc.activate(ctx, tx, sub.ID, expiresAt)
		if err != nil {
			return err
		}
		user, err := uc.users.UpdateEntitlement(ctx, tx, in.UserID, model.AccountTierPremium, &expiresAt)
		if err != nil {
			return err
		}
		view.Subscription, view.User = updated, user
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.log.Info().
		Str("billing_key", in.BillingKey).
		Str("user_id", in.UserID).
		Time("expires_at", expiresAt).
		Msg("subscription restored")
	return &view, nil
}

func (uc *subscriptionUC) Entitlement(ctx context.Context, userID string) (*EntitlementStatus, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	user, err := uc.users.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	subs, err := uc.subs.FindByUserID(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	return &EntitlementStatus{User: user, Subscriptions: subs}, nil
}

func (uc *subscriptionUC) FinishExpired(ctx context.Context) (int, error) {
	lapsed, err := uc.subs.FindExpired(ctx, repository.NoTX, time.Now())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	finished := 0
	for _, sub := range lapsed {
		err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			status := model.SubscriptionStatusExpired
			if _, err := uc.subs.Update(ctx, tx, sub.ID, repository.SubscriptionPatch{Status: &status}); err != nil {
				return err
			}
			_, err := uc.users.UpdateEntitlement(ctx, tx, sub.UserID, model.AccountTierFree, nil)
			return err
		})
		if err != nil {
			uc.log.Error().Err(err).Str("subscription_id", sub.ID).Msg("finish expired failed")
			continue
		}
		finished++
	}
	return finished, nil
}
