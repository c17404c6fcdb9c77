package migration

import (
	"github.com/bwmarrin/snowflake"
	"github.com/rumbosoft/rumbo/internal/config"
	"github.com/rumbosoft/rumbo/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, collections *config.CollectionsConfigHolder) error {
		if cfg.RunMigrations {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		}

		// Cloud installs get tenants from the control plane; self-hosted
		// ones collect for a single configured tenant from day one.
		if cfg.IsCloud() || cfg.DefaultTenantID == 0 {
			return nil
		}
		return seed.EnsureDefaultTenant(conn, snowflake.ID(cfg.DefaultTenantID), collections.Get())
	}),
)
