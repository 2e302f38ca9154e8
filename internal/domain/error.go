package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("storage operation failed")
	ErrInvalidExecContext = errors.New("invalid executor context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Subscription lifecycle errors
	ErrPlatformNotSupported = errors.New("platform not supported")
	ErrInvalidReceipt       = errors.New("invalid receipt")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrSubscriptionExpired  = errors.New("subscription has expired")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)
