package charge

import (
	"github.com/rumbosoft/rumbo/internal/charge/repository"
	"github.com/rumbosoft/rumbo/internal/charge/service"
	"go.uber.org/fx"
)

var Module = fx.Module("charge.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
