package billingevent

import (
	"github.com/rumbosoft/rumbo/internal/billingevent/repository"
	"github.com/rumbosoft/rumbo/internal/billingevent/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingevent.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
