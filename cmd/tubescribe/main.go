package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/tubescribe/tubescribe/internal/clock"
	"github.com/tubescribe/tubescribe/internal/config"
	"github.com/tubescribe/tubescribe/internal/job"
	"github.com/tubescribe/tubescribe/internal/ledger"
	"github.com/tubescribe/tubescribe/internal/logger"
	"github.com/tubescribe/tubescribe/internal/migration"
	"github.com/tubescribe/tubescribe/internal/observability"
	"github.com/tubescribe/tubescribe/internal/quota"
	"github.com/tubescribe/tubescribe/internal/ratelimit"
	"github.com/tubescribe/tubescribe/internal/reaper"
	"github.com/tubescribe/tubescribe/internal/server"
	"github.com/tubescribe/tubescribe/internal/subscription"
	"github.com/tubescribe/tubescribe/internal/topup"
	"github.com/tubescribe/tubescribe/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		subscription.Module,
		ledger.Module,
		topup.Module,
		job.Module,
		quota.Module,
		ratelimit.Module,
		reaper.Module,

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
