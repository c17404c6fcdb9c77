package payment

import (
	"github.com/rumbosoft/rumbo/internal/config"
	"github.com/rumbosoft/rumbo/internal/payment/providers"
	"github.com/rumbosoft/rumbo/internal/payment/providers/mercadopago"
	"github.com/rumbosoft/rumbo/internal/payment/providers/payway"
	"github.com/rumbosoft/rumbo/internal/payment/repository"
	"github.com/rumbosoft/rumbo/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewRegistry wires the shipped providers; cfg picks which one unknown
// keys resolve to.
func NewRegistry(cfg config.Config, log *zap.Logger) *providers.Registry {
	return providers.NewRegistry(cfg.Payments.DefaultProvider,
		mercadopago.NewProvider(mercadopago.Config{
			BaseURL:     cfg.Payments.MercadoPagoBaseURL,
			AccessToken: cfg.Payments.MercadoPagoAccessToken,
			WebhookKey:  cfg.Payments.MercadoPagoWebhookKey,
		}, log),
		payway.NewProvider(),
	)
}

var Module = fx.Module("payment",
	fx.Provide(
		NewRegistry,
		repository.Provide,
		service.NewService,
	),
)
