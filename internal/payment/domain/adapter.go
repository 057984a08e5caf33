package domain

import (
	"context"
	"net/http"
	"time"
)

// Adapter authenticates and decodes webhook deliveries for one billing provider.
type Adapter interface {
	// Verify must run on the raw, unmodified request body.
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	// Parse returns ErrEventIgnored (wrapped) for event types that need no action.
	Parse(ctx context.Context, payload []byte) (*PurchaseEvent, error)
}

type AdapterConfig struct {
	Provider      string
	WebhookSecret string
	Tolerance     time.Duration
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}
