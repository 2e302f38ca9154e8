package model

import (
	"encoding/json"
	"time"
)

// CanonicalEventType is the platform-independent classification of a store
// notification. The set is closed: per-platform decoders translate store codes
// onto it via fixed lookup tables, and the webhook processor dispatches on it
// exhaustively, so a new member forces its transition to be classified.
type CanonicalEventType string

const (
	EventRenewed     CanonicalEventType = "renewed"
	EventGracePeriod CanonicalEventType = "grace_period"
	EventCanceled    CanonicalEventType = "canceled"
	EventExpired     CanonicalEventType = "expired"
	EventRefunded    CanonicalEventType = "refunded"
	EventRecovered   CanonicalEventType = "recovered"
	EventPurchased   CanonicalEventType = "purchased"
	EventUnknown     CanonicalEventType = "unknown"
)

// WebhookLog is one row of the idempotency ledger. EventID is unique per
// platform notification; its presence is the sole guard against reprocessing
// a redelivered event.
type WebhookLog struct {
	EventID     string
	Platform    Platform
	EventType   CanonicalEventType
	BillingKey  string
	Payload     json.RawMessage
	ProcessedAt time.Time
}

// WebhookEvent is the canonical shape produced by the per-platform decoders
// and consumed by the webhook processor.
type WebhookEvent struct {
	EventID    string
	Platform   Platform
	EventType  CanonicalEventType
	BillingKey string
	Payload    json.RawMessage
	ExpiresAt  *time.Time // nil when the notification carries no expiry
}
