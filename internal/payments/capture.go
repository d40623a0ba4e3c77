package payments

import (
	"errors"
	"strings"
)

// ProviderStripe names the Stripe provider on captures and in logs.
const ProviderStripe = "stripe"

// orderMetadataKey is the metadata field checkout stamps on intents and sessions.
const orderMetadataKey = "order_id"

var (
	// ErrInvalidSignature is returned when the webhook signature does not verify.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrIgnoredEvent marks well-formed events that do not confirm a capture.
	ErrIgnoredEvent = errors.New("payments: event ignored")
	// ErrMissingOrder is returned when a capture event carries no order reference.
	ErrMissingOrder = errors.New("payments: event has no order reference")
)

// Capture is a verified payment confirmation for one order.
type Capture struct {
	Provider string
	EventID  string
	Type     string
	OrderID  string
	IntentID string
	Amount   int64
	Currency string
}

func orderIDFromMetadata(metadata map[string]string, fallback string) string {
	if id := strings.TrimSpace(metadata[orderMetadataKey]); id != "" {
		return id
	}
	if id := strings.TrimSpace(metadata["orderId"]); id != "" {
		return id
	}
	return strings.TrimSpace(fallback)
}
