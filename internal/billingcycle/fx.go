package billingcycle

import (
	"github.com/rumbosoft/rumbo/internal/billingcycle/repository"
	"github.com/rumbosoft/rumbo/internal/billingcycle/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingcycle",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
