package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/rumbosoft/rumbo/internal/clock"
	"github.com/rumbosoft/rumbo/internal/cloudmetrics"
	"github.com/rumbosoft/rumbo/internal/migration"
	"github.com/rumbosoft/rumbo/internal/observability"
	"github.com/rumbosoft/rumbo/internal/scheduler"
	"github.com/rumbosoft/rumbo/internal/server"
	"github.com/rumbosoft/rumbo/pkg/db"
	"go.uber.org/fx"
)

// The all-in-one binary: API surface, collections scheduler and
// migrations in one process. A self-hosted install runs this and a
// Postgres, nothing else.
func main() {
	app := fx.New(
		// Core infrastructure. config.Module rides in with server.Module.
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		server.Module,

		// Functional domains
		scheduler.Module,
		cloudmetrics.Module,
		migration.Module,
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
