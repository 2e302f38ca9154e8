package adapter

import (
	"context"
	"time"

	"mobile-iap-subscription/internal/domain/model"
)

// ValidationResult is the canonical outcome of a store-side receipt check.
type ValidationResult struct {
	BillingKey string
	ExpiresAt  time.Time
}

// ReceiptValidator is the hex port for platform stores. Implementations talk
// to the store's verification API and normalize every internal failure
// (transport, parsing, crypto) to domain.ErrInvalidReceipt so no store detail
// leaks past this boundary.
type ReceiptValidator interface {
	Platform() model.Platform

	// ValidateReceipt verifies a receipt/token with the store and returns the
	// canonical expiration. productID is advisory; some stores ignore it.
	ValidateReceipt(ctx context.Context, receipt, billingKey, productID string) (*ValidationResult, error)
}
