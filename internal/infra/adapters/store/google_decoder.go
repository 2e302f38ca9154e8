package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mobile-iap-subscription/internal/domain/model"
	"mobile-iap-subscription/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.WebhookDecoder = (*GoogleWebhookDecoder)(nil)

// Play real-time developer notification types.
const (
	googleSubscriptionRecovered     = 1
	googleSubscriptionRenewed       = 2
	googleSubscriptionCanceled      = 3
	googleSubscriptionPurchased     = 4
	googleSubscriptionOnHold        = 5
	googleSubscriptionInGracePeriod = 6
	googleSubscriptionRestarted     = 7
	googleSubscriptionRevoked       = 12
	googleSubscriptionExpired       = 13
)

// GoogleWebhookDecoder unwraps a Pub/Sub push delivery carrying a Play
// real-time developer notification. Renewal-class events carry no expiry in
// the notification itself, so the decoder refreshes it through the validator
// when one is wired; on failure the event still applies with the stored
// expiry.
type GoogleWebhookDecoder struct {
	validator *GoogleValidator // optional expiry refresh
	log       *zerolog.Logger
}

func NewGoogleWebhookDecoder(validator *GoogleValidator, logger *zerolog.Logger) *GoogleWebhookDecoder {
	l := logger.With().Str("component", "GoogleWebhookDecoder").Logger()
	return &GoogleWebhookDecoder{validator: validator, log: &l}
}

func (d *GoogleWebhookDecoder) Platform() model.Platform { return model.PlatformAndroid }

// pubsubEnvelope is the Pub/Sub push wrapper around the notification.
type pubsubEnvelope struct {
	Message struct {
		Data        string `json:"data"` // base64 developer notification
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// developerNotification is the decoded Play RTDN payload.
type developerNotification struct {
	Version                  string `json:"version"`
	PackageName              string `json:"packageName"`
	EventTimeMillis          string `json:"eventTimeMillis"`
	SubscriptionNotification *struct {
		Version          string `json:"version"`
		NotificationType int    `json:"notificationType"`
		PurchaseToken    string `json:"purchaseToken"`
		SubscriptionID   string `json:"subscriptionId"`
	} `json:"subscriptionNotification"`
	TestNotification *struct {
		Version string `json:"version"`
	} `json:"testNotification"`
}

func (d *GoogleWebhookDecoder) Decode(ctx context.Context, body []byte) (*model.WebhookEvent, error) {
	var envelope pubsubEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal pubsub envelope: %w", err)
	}
	if envelope.Message.MessageID == "" {
		return nil, fmt.Errorf("pubsub message has no id")
	}

	raw, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		return nil, fmt.Errorf("decode pubsub data: %w", err)
	}

	var notif developerNotification
	if err := json.Unmarshal(raw, &notif); err != nil {
		return nil, fmt.Errorf("unmarshal developer notification: %w", err)
	}
	if notif.TestNotification != nil {
		return nil, fmt.Errorf("test notification; nothing to process")
	}
	if notif.SubscriptionNotification == nil || notif.SubscriptionNotification.PurchaseToken == "" {
		return nil, fmt.Errorf("notification carries no subscription details")
	}

	sn := notif.SubscriptionNotification
	eventType := mapGoogleEvent(sn.NotificationType)
	if eventType == model.EventUnknown {
		d.log.Warn().Int("notification_type", sn.NotificationType).Msg("unmapped play notification type")
	}

	var expiresAt *time.Time
	if d.validator != nil && refreshesExpiry(eventType) {
		if res, err := d.validator.ValidateReceipt(ctx, "", sn.PurchaseToken, sn.SubscriptionID); err == nil {
			expiresAt = &res.ExpiresAt
		} else {
			d.log.Warn().Err(err).Msg("expiry refresh failed; applying event without new expiry")
		}
	}

	return &model.WebhookEvent{
		EventID:    envelope.Message.MessageID,
		Platform:   model.PlatformAndroid,
		EventType:  eventType,
		BillingKey: sn.PurchaseToken,
		Payload:    raw,
		ExpiresAt:  expiresAt,
	}, nil
}

func refreshesExpiry(t model.CanonicalEventType) bool {
	return t == model.EventRenewed || t == model.EventPurchased || t == model.EventRecovered
}

// mapGoogleEvent is the fixed lookup from Play notification codes onto the
// canonical event set.
func mapGoogleEvent(notificationType int) model.CanonicalEventType {
	switch notificationType {
	case googleSubscriptionRecovered, googleSubscriptionRestarted:
		return model.EventRecovered
	case googleSubscriptionRenewed:
		return model.EventRenewed
	case googleSubscriptionCanceled:
		return model.EventCanceled
	case googleSubscriptionPurchased:
		return model.EventPurchased
	case googleSubscriptionOnHold, googleSubscriptionInGracePeriod:
		return model.EventGracePeriod
	case googleSubscriptionRevoked:
		return model.EventRefunded
	case googleSubscriptionExpired:
		return model.EventExpired
	default:
		return model.EventUnknown
	}
}
