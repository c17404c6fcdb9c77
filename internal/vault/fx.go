package vault

import (
	"github.com/rumbosoft/rumbo/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("vault",
	fx.Provide(func(cfg config.Config) *Vault {
		return New(cfg.VaultKey)
	}),
)
