package adapter

import (
	"context"

	"mobile-iap-subscription/internal/domain/model"
)

// WebhookDecoder turns a raw store notification delivery into the canonical
// webhook event. Signature verification happens here; a decode or signature
// failure means "acknowledge without processing" at the transport layer.
type WebhookDecoder interface {
	Platform() model.Platform
	Decode(ctx context.Context, body []byte) (*model.WebhookEvent, error)
}
