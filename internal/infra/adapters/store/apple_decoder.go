package store

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mobile-iap-subscription/internal/domain/model"
	"mobile-iap-subscription/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.WebhookDecoder = (*AppleWebhookDecoder)(nil)

// AppleWebhookDecoder turns an App Store Server Notification V2 delivery into
// the canonical webhook event. Both the outer signedPayload and the embedded
// signedTransactionInfo are JWS-verified before anything is trusted.
type AppleWebhookDecoder struct {
	roots *x509.CertPool
	log   *zerolog.Logger
}

func NewAppleWebhookDecoder(roots *x509.CertPool, logger *zerolog.Logger) *AppleWebhookDecoder {
	l := logger.With().Str("component", "AppleWebhookDecoder").Logger()
	return &AppleWebhookDecoder{roots: roots, log: &l}
}

func (d *AppleWebhookDecoder) Platform() model.Platform { return model.PlatformIOS }

func (d *AppleWebhookDecoder) Decode(ctx context.Context, body []byte) (*model.WebhookEvent, error) {
	var envelope struct {
		SignedPayload string `json:"signedPayload"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal notification envelope: %w", err)
	}
	if envelope.SignedPayload == "" {
		return nil, fmt.Errorf("notification has no signedPayload")
	}

	notif := &appStoreNotification{}
	if err := decodeJWS(envelope.SignedPayload, d.roots, notif); err != nil {
		return nil, fmt.Errorf("verify signedPayload: %w", err)
	}
	if notif.NotificationUUID == "" {
		return nil, fmt.Errorf("notification has no uuid")
	}
	if notif.Data.SignedTransactionInfo == "" {
		return nil, fmt.Errorf("notification has no transaction info")
	}

	tx := &appStoreTransaction{}
	if err := decodeJWS(notif.Data.SignedTransactionInfo, d.roots, tx); err != nil {
		return nil, fmt.Errorf("verify signedTransactionInfo: %w", err)
	}
	if tx.OriginalTransactionID == "" {
		return nil, fmt.Errorf("transaction has no original transaction id")
	}

	var expiresAt *time.Time
	if !tx.ExpiresDate.IsZero() {
		t := time.Unix(0, int64(tx.ExpiresDate)*int64(time.Millisecond))
		expiresAt = &t
	}

	eventType := mapAppleEvent(notif.NotificationType, notif.Subtype)
	if eventType == model.EventUnknown {
		d.log.Warn().
			Str("notification_type", notif.NotificationType).
			Str("subtype", notif.Subtype).
			Msg("unmapped app store notification type")
	}

	return &model.WebhookEvent{
		EventID:    notif.NotificationUUID,
		Platform:   model.PlatformIOS,
		EventType:  eventType,
		BillingKey: tx.OriginalTransactionID,
		Payload:    compactJSON(notif),
		ExpiresAt:  expiresAt,
	}, nil
}

// mapAppleEvent is the fixed lookup from App Store notification type/subtype
// pairs onto the canonical event set.
func mapAppleEvent(notificationType, subtype string) model.CanonicalEventType {
	switch notificationType {
	case "SUBSCRIBED":
		return model.EventPurchased
	case "DID_RENEW":
		if subtype == "BILLING_RECOVERY" {
			return model.EventRecovered
		}
		return model.EventRenewed
	case "DID_FAIL_TO_RENEW":
		return model.EventGracePeriod
	case "DID_CHANGE_RENEWAL_STATUS":
		return model.EventCanceled
	case "EXPIRED", "GRACE_PERIOD_EXPIRED":
		return model.EventExpired
	case "REFUND", "REVOKE":
		return model.EventRefunded
	default:
		return model.EventUnknown
	}
}
