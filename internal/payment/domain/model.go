package domain

import "time"

const (
	ProviderStripe = "stripe"

	EventTypeCheckoutCompleted = "checkout.session.completed"
)

// PurchaseEvent is the canonical checkout-completed event parsed by adapters.
// CustomerEmail is passed through as delivered; callers normalize it.
type PurchaseEvent struct {
	Provider           string
	ProviderEventID    string
	Type               string
	SessionID          string
	CustomerEmail      string
	CustomerName       string
	ProviderCustomerID string
	OccurredAt         time.Time
	RawPayload         []byte
}
