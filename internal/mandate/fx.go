package mandate

import (
	"github.com/rumbosoft/rumbo/internal/mandate/repository"
	"github.com/rumbosoft/rumbo/internal/mandate/service"
	"go.uber.org/fx"
)

var Module = fx.Module("mandate",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
