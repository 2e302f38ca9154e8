// File: internal/usecase/webhook_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"mobile-iap-subscription/internal/domain"
	"mobile-iap-subscription/internal/domain/model"
	"mobile-iap-subscription/internal/domain/ports/repository"
)

// Compile-time check
var _ WebhookUseCase = (*webhookUC)(nil)

type WebhookUseCase interface {
	// ProcessEvent applies a canonical store notification exactly once.
	// alreadyProcessed=true means the event id was seen before and nothing
	// changed. ErrSubscriptionNotFound means the event cannot be applied yet;
	// the delivery is not sealed so a later retry can succeed.
	ProcessEvent(ctx context.Context, event *model.WebhookEvent) (alreadyProcessed bool, err error)
}

type webhookUC struct {
	subs  repository.SubscriptionRepository
	users repository.UserRepository
	tm    repository.TransactionManager
	log   *zerolog.Logger
}

func NewWebhookUseCase(
	subs repository.SubscriptionRepository,
	users repository.UserRepository,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *webhookUC {
	l := logger.With().Str("component", "WebhookUC").Logger()
	return &webhookUC{subs: subs, users: users, tm: tm, log: &l}
}

// transition is one row of the state machine over Subscription.status. Every
// transition is a full-state overwrite, so concurrent deliveries for the same
// billing key settle on one of the valid target states (last write wins).
type transition struct {
	status          *model.SubscriptionStatus // nil leaves the subscription untouched
	takeEventExpiry bool                      // overwrite expiry from the event when present
	entitlement     entitlementEffect
}

type entitlementEffect int

const (
	entitlementUnchanged entitlementEffect = iota
	entitlementPremium
	entitlementFree
	entitlementPremiumIfCurrent // recovery guard: premium only while not lapsed
)

func statusPtr(s model.SubscriptionStatus) *model.SubscriptionStatus { return &s }

// classify maps every member of the closed event enum onto its transition.
// Adding an event type without extending this switch falls through to the
// no-op arm, which is logged loudly.
func classify(t model.CanonicalEventType) (transition, bool) {
	switch t {
	case model.EventRenewed, model.EventPurchased:
		return transition{status: statusPtr(model.SubscriptionStatusActive), takeEventExpiry: true, entitlement: entitlementPremium}, true
	case model.EventGracePeriod:
		return transition{status: statusPtr(model.SubscriptionStatusGracePeriod)}, true
	case model.EventCanceled:
		return transition{status: statusPtr(model.SubscriptionStatusCanceled)}, true
	case model.EventExpired:
		return transition{status: statusPtr(model.SubscriptionStatusExpired), entitlement: entitlementFree}, true
	case model.EventRefunded:
		return transition{entitlement: entitlementFree}, true
	case model.EventRecovered:
		return transition{status: statusPtr(model.SubscriptionStatusActive), entitlement: entitlementPremiumIfCurrent}, true
	case model.EventUnknown:
		return transition{}, false
	default:
		return transition{}, false
	}
}

func (uc *webhookUC) ProcessEvent(ctx context.Context, event *model.WebhookEvent) (bool, error) {
	if event == nil || event.EventID == "" || event.BillingKey == "" {
		return false, domain.ErrInvalidArgument
	}

	alreadyProcessed := false
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		// Seal the idempotency ledger first, inside the same transaction as
		// the state transition. The unique constraint on event_id is the
		// authoritative duplicate signal; a duplicate insert commits nothing.
		logRow := &model.WebhookLog{
			EventID:     event.EventID,
			Platform:    event.Platform,
			EventType:   event.EventType,
			BillingKey:  event.BillingKey,
			Payload:     event.Payload,
			ProcessedAt: time.Now(),
		}
		if err := uc.subs.CreateWebhookLog(ctx, tx, logRow); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				alreadyProcessed = true
				return nil
			}
			return err
		}

		sub, err := uc.subs.FindByBillingKey(ctx, tx, event.BillingKey)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrSubscriptionNotFound
			}
			return err
		}

		tr, known := classify(event.EventType)
		if !known {
			// Unrecognized events are sealed (the log row above commits) so a
			// redelivery is not reprocessed, but they change no state.
			uc.log.Warn().
				Str("event_id", event.EventID).
				Str("event_type", string(event.EventType)).
				Str("billing_key", event.BillingKey).
				Msg("unrecognized webhook event type; sealed as no-op")
			return nil
		}

		return uc.apply(ctx, tx, sub, event, tr)
	})
	if err != nil {
		return false, err
	}

	if alreadyProcessed {
		uc.log.Debug().
			Str("event_id", event.EventID).
			Str("platform", string(event.Platform)).
			Msg("duplicate webhook delivery ignored")
	}
	return alreadyProcessed, nil
}

func (uc *webhookUC) apply(ctx context.Context, tx repository.Tx, sub *model.Subscription, event *model.WebhookEvent, tr transition) error {
	updated := sub
	if tr.status != nil {
		patch := repository.SubscriptionPatch{Status: tr.status}
		if tr.takeEventExpiry && event.ExpiresAt != nil {
			patch.ExpiresAt = event.ExpiresAt
		}
		var err error
		updated, err = uc.subs.Update(ctx, tx, sub.ID, patch)
		if err != nil {
			return err
		}
	}

	switch tr.entitlement {
	case entitlementPremium:
		expiry := updated.ExpiresAt
		if _, err := uc.users.UpdateEntitlement(ctx, tx, sub.UserID, model.AccountTierPremium, &expiry); err != nil {
			return err
		}
	case entitlementFree:
		if _, err := uc.users.UpdateEntitlement(ctx, tx, sub.UserID, model.AccountTierFree, nil); err != nil {
			return err
		}
	case entitlementPremiumIfCurrent:
		// A recovery notification for an already-lapsed record reactivates
		// the subscription row but must not re-grant entitlement.
		if sub.ExpiresAt.After(time.Now()) {
			expiry := updated.ExpiresAt
			if _, err := uc.users.UpdateEntitlement(ctx, tx, sub.UserID, model.AccountTierPremium, &expiry); err != nil {
				return err
			}
		}
	case entitlementUnchanged:
	}

	uc.log.Info().
		Str("event_id", event.EventID).
		Str("event_type", string(event.EventType)).
		Str("billing_key", event.BillingKey).
		Str("status", string(updated.Status)).
		Msg("webhook event applied")
	return nil
}
