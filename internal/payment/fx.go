package payment

import (
	"github.com/smallbiznis/homecare/internal/config"
	"github.com/smallbiznis/homecare/internal/payment/adapters"
	"github.com/smallbiznis/homecare/internal/payment/adapters/stripe"
	"github.com/smallbiznis/homecare/internal/payment/domain"
	"github.com/smallbiznis/homecare/internal/payment/repository"
	"github.com/smallbiznis/homecare/internal/payment/service"
	"go.uber.org/fx"
)

func newRegistry() *adapters.Registry {
	return adapters.NewRegistry(
		stripe.NewFactory(),
	)
}

// newGateway builds the configured provider's gateway for outbound checkout
// creation. Webhook ingestion resolves providers per request instead.
func newGateway(cfg config.Config, registry *adapters.Registry) (domain.Gateway, error) {
	return registry.NewGateway(cfg.Gateway.Provider, domain.GatewayConfig{
		APIKey:        cfg.Gateway.APIKey,
		WebhookSecret: cfg.Gateway.WebhookSecret,
		SuccessURL:    cfg.Gateway.SuccessURL,
		CancelURL:     cfg.Gateway.CancelURL,
	})
}

var Module = fx.Module("payment.service",
	fx.Provide(newRegistry),
	fx.Provide(newGateway),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
