// File: internal/usecase/webhook_uc_test.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"mobile-iap-subscription/internal/domain"
	"mobile-iap-subscription/internal/domain/model"
)

type webhookTestEnv struct {
	subs  *memSubRepo
	users *memUserRepo
	uc    WebhookUseCase
}

func newWebhookTestEnv(t *testing.T) *webhookTestEnv {
	t.Helper()
	subs := newMemSubRepo()
	users := newMemUserRepo()
	return &webhookTestEnv{
		subs:  subs,
		users: users,
		uc:    NewWebhookUseCase(subs, users, newMockTxManager(subs, users), newTestLogger()),
	}
}

func (env *webhookTestEnv) seed(t *testing.T, userID string, status model.SubscriptionStatus, expiresAt time.Time) *model.Subscription {
	t.Helper()
	sub, err := model.NewSubscription("sub-1", userID, model.PlatformAndroid, "token-1", expiresAt)
	if err != nil {
		t.Fatalf("NewSubscription: %v", err)
	}
	sub.Status = status
	env.subs.subs[sub.ID] = sub
	env.users.put(&model.User{ID: userID, AccountTier: model.AccountTierPremium, SubscriptionExpiresAt: &expiresAt})
	return sub
}

func event(id string, typ model.CanonicalEventType, expiresAt *time.Time) *model.WebhookEvent {
	return &model.WebhookEvent{
		EventID:    id,
		Platform:   model.PlatformAndroid,
		EventType:  typ,
		BillingKey: "token-1",
		Payload:    json.RawMessage(`{"test":true}`),
		ExpiresAt:  expiresAt,
	}
}

func TestWebhookUseCase_ProcessEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("renewal extends expiry and keeps premium", func(t *testing.T) {
		env := newWebhookTestEnv(t)
		env.seed(t, "user-1", model.SubscriptionStatusActive, time.Now().Add(time.Hour))
		next := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second)

		dup, err := env.uc.ProcessEvent(ctx, event("evt-1", model.EventRenewed, &next))
		if err != nil {
			t.Fatalf("ProcessEvent: %v", err)
		}
		if dup {
			t.Fatal("first delivery must not be flagged as duplicate")
		}

		sub, _ := env.subs.FindByID(ctx, nil, "sub-1")
		if sub.Status != model.SubscriptionStatusActive || !sub.ExpiresAt.Equal(next) {
			t.Fatalf("subscription = %s/%v, want active/%v", sub.Status, sub.ExpiresAt, next)
		}
		u, _ := env.users.FindByID(ctx, nil, "user-1")
		if u.AccountTier != model.AccountTierPremium || u.SubscriptionExpiresAt == nil || !u.SubscriptionExpiresAt.Equal(next) {
			t.Fatal("user entitlement must mirror the renewed expiry")
		}
	})

	t.Run("duplicate delivery is ignored and state is unchanged", func(t *testing.T) {
		env := newWebhookTestEnv(t)
		env.seed(t, "user-1", model.SubscriptionStatusActive, time.Now().Add(time.Hour))
		first := time.Now().Add(10 * 24 * time.Hour).Truncate(time.Second)

		if _, err := env.uc.ProcessEvent(ctx, event("evt-1", model.EventRenewed, &first)); err != nil {
			t.Fatalf("first ProcessEvent: %v", err)
		}
		after, _ := env.subs.FindByID(ctx, nil, "sub-1")

		// Same event id, different payload: must be a pure no-op.
		replayed := time.Now().Add(99 * 24 * time.Hour)
		dup, err := env.uc.ProcessEvent(ctx, event("evt-1", model.EventCanceled, &replayed))
		if err != nil {
			t.Fatalf("second ProcessEvent: %v", err)
		}
		if !dup {
			t.Fatal("redelivery must report alreadyProcessed")
		}

		again, _ := env.subs.FindByID(ctx, nil, "sub-1")
		if again.Status != after.Status || !again.ExpiresAt.Equal(after.ExpiresAt) {
			t.Fatal("duplicate delivery must not change subscription state")
		}
	})

	t.Run("expiration downgrades the owner", func(t *testing.T) {
		env := newWebhookTestEnv(t)
		env.seed(t, "user-1", model.SubscriptionStatusActive, time.Now().Add(-time.Minute))

		if _, err := env.uc.ProcessEvent(ctx, event("evt-1", model.EventExpired, nil)); err != nil {
			t.Fatalf("ProcessEvent: %v", err)
		}

		sub, _ := env.subs.FindByID(ctx, nil, "sub-1")
		if sub.Status != model.SubscriptionStatusExpired {
			t.Fatalf("status = %s, want expired", sub.Status)
		}
		u, _ := env.users.FindByID(ctx, nil, "user-1")
		if u.AccountTier != model.AccountTierFree || u.SubscriptionExpiresAt != nil {
			t.Fatal("owner must be downgraded to free with no expiry")
		}
	})

	t.Run("grace period changes status without touching entitlement", func(t *testing.T) {
		env := newWebhookTestEnv(t)
		expiry := time.Now().Add(time.Hour)
		env.seed(t, "user-1", model.SubscriptionStatusActive, expiry)

		if _, err := env.uc.ProcessEvent(ctx, event("evt-1", model.EventGracePeriod, nil)); err != nil {
			t.Fatalf("ProcessEvent: %v", err)
		}

		sub, _ := env.subs.FindByID(ctx, nil, "sub-1")
		if sub.Status != model.SubscriptionStatusGracePeriod {
			t.Fatalf("status = %s, want grace_period", sub.Status)
		}
		u, _ := env.users.FindByID(ctx, nil, "user-1")
		if u.AccountTier != model.AccountTierPremium {
			t.Fatal("grace period must keep the user premium")
		}
	})

	t.Run("cancellation flips status but premium runs to expiry", func(t *testing.T) {
		env := newWebhookTestEnv(t)
		env.seed(t, "user-1", model.SubscriptionStatusActive, time.Now().Add(time.Hour))

		if _, err := env.uc.ProcessEvent(ctx, event("evt-1", model.EventCanceled, nil)); err != nil {
			t.Fatalf("ProcessEvent: %v", err)
		}

		sub, _ := env.subs.FindByID(ctx, nil, "sub-1")
		if sub.Status != model.SubscriptionStatusCanceled {
			t.Fatalf("status = %s, want canceled", sub.Status)
		}
		u, _ := env.users.FindByID(ctx, nil, "user-1")
		if u.AccountTier != model.AccountTierPremium {
			t.Fatal("cancellation must not revoke entitlement before expiry")
		}
	})

	t.Run("refund revokes entitlement immediately and keeps status", func(t *testing.T) {
		env := newWebhookTestEnv(t)
		env.seed(t, "user-1", model.SubscriptionStatusActive, time.Now().Add(time.Hour))

		if _, err := env.uc.ProcessEvent(ctx, event("evt-1", model.EventRefunded, nil)); err != nil {
			t.Fatalf("ProcessEvent: %v", err)
		}

		sub, _ := env.subs.FindByID(ctx, nil, "sub-1")
		if sub.Status != model.SubscriptionStatusActive {
			t.Fatalf("status = %s, want active (refund leaves status alone)", sub.Status)
		}
		u, _ := env.users.FindByID(ctx, nil, "user-1")
		if u.AccountTier != model.AccountTierFree {
			t.Fatal("refund must revoke entitlement immediately")
		}
	})

	t.Run("recovery of a current record restores premium", func(t *testing.T) {
		env := newWebhookTestEnv(t)
		env.seed(t, "user-1", model.SubscriptionStatusGracePeriod, time.Now().Add(time.Hour))
		env.users.put(&model.User{ID: "user-1", AccountTier: model.AccountTierFree})

		if _, err := env.uc.ProcessEvent(ctx, event("evt-1", model.EventRecovered, nil)); err != nil {
			t.Fatalf("ProcessEvent: %v", err)
		}

		sub, _ := env.subs.FindByID(ctx, nil, "sub-1")
		if sub.Status != model.SubscriptionStatusActive {
			t.Fatalf("status = %s, want active", sub.Status)
		}
		u, _ := env.users.FindByID(ctx, nil, "user-1")
		if u.AccountTier != model.AccountTierPremium {
			t.Fatal("recovery of a current record must restore premium")
		}
	})

	t.Run("recovery of a lapsed record reactivates status but not entitlement", func(t *testing.T) {
		env := newWebhookTestEnv(t)
		env.seed(t, "user-1", model.SubscriptionStatusGracePeriod, time.Now().Add(-time.Hour))
		env.users.put(&model.User{ID: "user-1", AccountTier: model.AccountTierFree})

		if _, err := env.uc.ProcessEvent(ctx, event("evt-1", model.EventRecovered, nil)); err != nil {
			t.Fatalf("ProcessEvent: %v", err)
		}

		sub, _ := env.subs.FindByID(ctx, nil, "sub-1")
		if sub.Status != model.SubscriptionStatusActive {
			t.Fatalf("status = %s, want active", sub.Status)
		}
		u, _ := env.users.FindByID(ctx, nil, "user-1")
		if u.AccountTier != model.AccountTierFree {
			t.Fatal("recovery guard: lapsed expiry must not re-grant premium")
		}
	})

	t.Run("unknown billing key fails without sealing the delivery", func(t *testing.T) {
		env := newWebhookTestEnv(t)

		_, err := env.uc.ProcessEvent(ctx, event("evt-1", model.EventRenewed, nil))
		if !errors.Is(err, domain.ErrSubscriptionNotFound) {
			t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
		}
		if _, err := env.subs.FindWebhookLog(ctx, nil, "evt-1"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatal("ledger row must roll back so a retry can apply the event")
		}

		// Once the subscription exists the redelivery applies cleanly.
		env.seed(t, "user-1", model.SubscriptionStatusActive, time.Now().Add(time.Hour))
		dup, err := env.uc.ProcessEvent(ctx, event("evt-1", model.EventRenewed, nil))
		if err != nil {
			t.Fatalf("retry ProcessEvent: %v", err)
		}
		if dup {
			t.Fatal("retry after rollback must process, not dedupe")
		}
	})

	t.Run("unrecognized event type is sealed as a no-op", func(t *testing.T) {
		env := newWebhookTestEnv(t)
		before := env.seed(t, "user-1", model.SubscriptionStatusActive, time.Now().Add(time.Hour))

		dup, err := env.uc.ProcessEvent(ctx, event("evt-1", model.EventUnknown, nil))
		if err != nil {
			t.Fatalf("ProcessEvent: %v", err)
		}
		if dup {
			t.Fatal("first delivery of an unknown event is not a duplicate")
		}

		sub, _ := env.subs.FindByID(ctx, nil, "sub-1")
		if sub.Status != before.Status || !sub.ExpiresAt.Equal(before.ExpiresAt) {
			t.Fatal("unknown events must not change subscription state")
		}
		if _, err := env.subs.FindWebhookLog(ctx, nil, "evt-1"); err != nil {
			t.Fatal("unknown events must still seal the ledger")
		}

		dup, err = env.uc.ProcessEvent(ctx, event("evt-1", model.EventUnknown, nil))
		if err != nil || !dup {
			t.Fatalf("redelivery must dedupe, got dup=%v err=%v", dup, err)
		}
	})

	t.Run("missing event id or billing key is rejected", func(t *testing.T) {
		env := newWebhookTestEnv(t)

		if _, err := env.uc.ProcessEvent(ctx, nil); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("nil event: expected ErrInvalidArgument, got %v", err)
		}
		e := event("", model.EventRenewed, nil)
		if _, err := env.uc.ProcessEvent(ctx, e); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("empty id: expected ErrInvalidArgument, got %v", err)
		}
		e = event("evt-1", model.EventRenewed, nil)
		e.BillingKey = ""
		if _, err := env.uc.ProcessEvent(ctx, e); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("empty billing key: expected ErrInvalidArgument, got %v", err)
		}
	})
}
