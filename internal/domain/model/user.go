package model

import "time"

type AccountTier string

const (
	AccountTierFree    AccountTier = "free"
	AccountTierPremium AccountTier = "premium"
)

// User is owned by the accounts module; this service only reads and patches
// the entitlement fields, which it treats as a denormalized cache of "does
// this user currently hold a valid subscription".
type User struct {
	ID                    string
	AccountTier           AccountTier
	SubscriptionExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (u *User) IsPremium() bool { return u.AccountTier == AccountTierPremium }
