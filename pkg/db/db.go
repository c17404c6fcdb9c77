package db

import (
	"context"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	gormprom "gorm.io/plugin/prometheus"
)

var Module = fx.Module("pkg.db",
	fx.Provide(Open),
)

type Params struct {
	fx.In

	Config Config
	Log    *zap.Logger

	// GormLogger is wired by the observability module; gorm falls back to
	// its silent logger when absent (tests).
	GormLogger gormlogger.Interface `optional:"true"`
}

// Open connects gorm with tracing and metrics plugins installed and the
// connection pool tuned from config. The pool is closed on fx shutdown.
func Open(lc fx.Lifecycle, p Params) (*gorm.DB, error) {
	cfg := p.Config.withDefaults()

	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	opts := &gorm.Config{TranslateError: true}
	if p.GormLogger != nil {
		opts.Logger = p.GormLogger
	} else {
		opts.Logger = gormlogger.Default.LogMode(gormlogger.Silent)
	}

	gdb, err := gorm.Open(dialector, opts)
	if err != nil {
		return nil, err
	}

	if err := gdb.Use(otelgorm.NewPlugin(otelgorm.WithDBName(cfg.Name))); err != nil {
		return nil, err
	}
	if err := gdb.Use(gormprom.New(gormprom.Config{
		DBName:          cfg.Name,
		RefreshInterval: 15,
	})); err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sqlDB.PingContext(ctx)
		},
		OnStop: func(context.Context) error {
			p.Log.Info("closing database pool")
			return sqlDB.Close()
		},
	})

	return gdb, nil
}
