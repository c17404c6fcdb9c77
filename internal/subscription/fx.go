package subscription

import (
	"github.com/rumbosoft/rumbo/internal/subscription/repository"
	"github.com/rumbosoft/rumbo/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
