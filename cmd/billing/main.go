package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/courtierpro/billing/internal/clock"
	"github.com/courtierpro/billing/internal/config"
	"github.com/courtierpro/billing/internal/metrics"
	"github.com/courtierpro/billing/internal/migration"
	"github.com/courtierpro/billing/internal/server"
	"github.com/courtierpro/billing/pkg/db"
	"github.com/courtierpro/billing/pkg/log"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		metrics.Module,
		migration.Module,
		server.Module,
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
