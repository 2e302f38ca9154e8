package model

import (
	"time"

	"mobile-iap-subscription/internal/domain"
)

type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// ParsePlatform validates a client-supplied platform identifier.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case PlatformIOS, PlatformAndroid:
		return Platform(s), nil
	}
	return "", domain.ErrPlatformNotSupported
}

type SubscriptionStatus string

const (
	SubscriptionStatusActive      SubscriptionStatus = "active"
	SubscriptionStatusExpired     SubscriptionStatus = "expired"
	SubscriptionStatusCanceled    SubscriptionStatus = "canceled"
	SubscriptionStatusGracePeriod SubscriptionStatus = "grace_period"
)

// Subscription holds the lifecycle state of one store subscription line.
// BillingKey is the store-issued purchase/transaction token; exactly one
// record exists per billing key and the key never changes after creation.
type Subscription struct {
	ID         string // UUID
	UserID     string // UUID of the owning user
	Platform   Platform
	BillingKey string
	Status     SubscriptionStatus
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewSubscription creates an active subscription from a validated receipt.
func NewSubscription(id, userID string, platform Platform, billingKey string, expiresAt time.Time) (*Subscription, error) {
	if id == "" || userID == "" || billingKey == "" || expiresAt.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Subscription{
		ID:         id,
		UserID:     userID,
		Platform:   platform,
		BillingKey: billingKey,
		Status:     SubscriptionStatusActive,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// IsActive reports whether the subscription currently grants entitlement.
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive && s.ExpiresAt.After(time.Now())
}

// IsExpired reports whether the subscription has lapsed, either by explicit
// status or by its expiry instant passing.
func (s *Subscription) IsExpired() bool {
	return s.Status == SubscriptionStatusExpired || !s.ExpiresAt.After(time.Now())
}
