package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/rumbosoft/rumbo/internal/clock"
	"github.com/rumbosoft/rumbo/internal/migration"
	"github.com/rumbosoft/rumbo/internal/observability"
	"github.com/rumbosoft/rumbo/internal/server"
	"github.com/rumbosoft/rumbo/pkg/db"
	"go.uber.org/fx"
)

// The HTTP-only binary for cloud deployments: tenant and back-office
// APIs without the job loop. The embedded scheduler hook in
// server-driven installs stands down in cloud mode anyway, so this
// composition is just the server plus migrations.
func main() {
	app := fx.New(
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		server.Module,

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
