package bankfile

import (
	"github.com/rumbosoft/rumbo/internal/bankfile/repository"
	"github.com/rumbosoft/rumbo/internal/bankfile/service"
	"go.uber.org/fx"
)

var Module = fx.Module("bankfile",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
