package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/rumbosoft/rumbo/internal/artifact"
	"github.com/rumbosoft/rumbo/internal/bankfile"
	"github.com/rumbosoft/rumbo/internal/billingcycle"
	"github.com/rumbosoft/rumbo/internal/billingevent"
	"github.com/rumbosoft/rumbo/internal/charge"
	"github.com/rumbosoft/rumbo/internal/clock"
	"github.com/rumbosoft/rumbo/internal/cloudmetrics"
	"github.com/rumbosoft/rumbo/internal/config"
	"github.com/rumbosoft/rumbo/internal/mandate"
	"github.com/rumbosoft/rumbo/internal/modifier"
	"github.com/rumbosoft/rumbo/internal/observability"
	"github.com/rumbosoft/rumbo/internal/payment"
	"github.com/rumbosoft/rumbo/internal/ratelimit"
	"github.com/rumbosoft/rumbo/internal/scheduler"
	"github.com/rumbosoft/rumbo/internal/subscription"
	"github.com/rumbosoft/rumbo/internal/vault"
	"github.com/rumbosoft/rumbo/pkg/db"
	"go.uber.org/fx"
)

// The dedicated worker binary: runs the collections jobs and nothing
// else. Cloud deployments run a fleet of these behind the Redis job
// lease; no server module here.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services the jobs drive
		vault.Module,
		billingevent.Module,
		subscription.Module,
		modifier.Module,
		billingcycle.Module,
		charge.Module,
		mandate.Module,
		payment.Module,
		artifact.Module,
		bankfile.Module,
		ratelimit.Module,
		cloudmetrics.Module,

		fx.Provide(scheduler.ProvideConfig),
		fx.Provide(scheduler.New),
		fx.Invoke(StartScheduler),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

// StartScheduler runs the loop unconditionally: unlike the embedded
// hook in scheduler.Module this binary exists to run jobs, and the job
// lease keeps concurrent replicas from doubling work.
func StartScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			runCtx, cancel := context.WithCancel(context.Background())
			go s.RunForever(runCtx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
