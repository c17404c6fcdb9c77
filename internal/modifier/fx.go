package modifier

import (
	"github.com/rumbosoft/rumbo/internal/modifier/repository"
	"github.com/rumbosoft/rumbo/internal/modifier/service"
	"go.uber.org/fx"
)

var Module = fx.Module("modifier.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewResolver),
	fx.Provide(service.NewService),
)
