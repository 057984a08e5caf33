package payment

import (
	"github.com/smallbiznis/courseaccess/internal/config"
	"github.com/smallbiznis/courseaccess/internal/payment/adapters"
	"github.com/smallbiznis/courseaccess/internal/payment/adapters/stripe"
	"github.com/smallbiznis/courseaccess/internal/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.adapters",
	fx.Provide(NewRegistry),
)

// NewRegistry configures one adapter per provider whose webhook secret is set.
func NewRegistry(cfg config.Config) (*adapters.Registry, error) {
	var configs []domain.AdapterConfig
	if cfg.Stripe.WebhookSecret != "" {
		configs = append(configs, domain.AdapterConfig{
			Provider:      domain.ProviderStripe,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Tolerance:     cfg.Stripe.WebhookTolerance,
		})
	}
	return adapters.NewRegistry(configs, stripe.NewFactory())
}
