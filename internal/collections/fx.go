package collections

import (
	"github.com/rumbosoft/rumbo/internal/collections/service"
	"go.uber.org/fx"
)

var Module = fx.Module("collections",
	fx.Provide(service.NewService),
)
