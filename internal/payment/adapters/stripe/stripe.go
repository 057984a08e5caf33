package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/courseaccess/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const SignatureHeader = "Stripe-Signature"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return paymentdomain.ProviderStripe
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Adapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	return &Adapter{
		webhookSecret: secret,
		tolerance:     tolerance,
	}, nil
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
}

// Verify checks the v1 HMAC-SHA256 signature and the timestamp tolerance.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	if err := webhook.ValidatePayloadWithTolerance(payload, sigHeader, a.webhookSecret, a.tolerance); err != nil {
		return fmt.Errorf("%w: %s", paymentdomain.ErrInvalidSignature, signatureReason(err))
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PurchaseEvent, error) {
	var event stripego.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	eventType := strings.TrimSpace(string(event.Type))
	if strings.TrimSpace(event.ID) == "" || eventType == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	if event.Type != stripego.EventTypeCheckoutSessionCompleted {
		return nil, fmt.Errorf("%w: %s", paymentdomain.ErrEventIgnored, eventType)
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, paymentdomain.ErrInvalidPayload
	}

	var session stripego.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	out := &paymentdomain.PurchaseEvent{
		Provider:        paymentdomain.ProviderStripe,
		ProviderEventID: event.ID,
		Type:            paymentdomain.EventTypeCheckoutCompleted,
		SessionID:       session.ID,
		CustomerEmail:   session.CustomerEmail,
		OccurredAt:      timestamp(session.Created, event.Created),
		RawPayload:      payload,
	}
	if details := session.CustomerDetails; details != nil {
		if strings.TrimSpace(details.Email) != "" {
			out.CustomerEmail = details.Email
		}
		out.CustomerName = strings.TrimSpace(details.Name)
	}
	if session.Customer != nil {
		out.ProviderCustomerID = strings.TrimSpace(session.Customer.ID)
	}
	return out, nil
}

func signatureReason(err error) string {
	switch {
	case errors.Is(err, webhook.ErrTooOld):
		return "timestamp outside tolerance"
	case errors.Is(err, webhook.ErrNotSigned), errors.Is(err, webhook.ErrInvalidHeader):
		return "malformed signature header"
	default:
		return "signature mismatch"
	}
}

func timestamp(primary int64, fallback int64) time.Time {
	if primary > 0 {
		return time.Unix(primary, 0).UTC()
	}
	if fallback > 0 {
		return time.Unix(fallback, 0).UTC()
	}
	return time.Now().UTC()
}
