package config

import (
	"go.uber.org/fx"

	"github.com/rumbosoft/rumbo/pkg/db"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(func(cfg Config) db.Config { return cfg.DB() }),
	fx.Provide(NewCollectionsConfigHolder),
)
