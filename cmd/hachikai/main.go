package main

import (
	asynqfx "github.com/jinjinsansan/hachikai/pkg/asynq"
	"github.com/jinjinsansan/hachikai/pkg/clock"
	"github.com/jinjinsansan/hachikai/pkg/config"
	"github.com/jinjinsansan/hachikai/pkg/db"
	"github.com/jinjinsansan/hachikai/pkg/health"
	"github.com/jinjinsansan/hachikai/pkg/logger"
	"github.com/jinjinsansan/hachikai/pkg/objectstore"
	redisfx "github.com/jinjinsansan/hachikai/pkg/redis"
	"github.com/jinjinsansan/hachikai/pkg/server"

	"github.com/jinjinsansan/hachikai/internal/httpapi"
	"github.com/jinjinsansan/hachikai/services/activity"
	"github.com/jinjinsansan/hachikai/services/anomaly"
	"github.com/jinjinsansan/hachikai/services/debt"
	"github.com/jinjinsansan/hachikai/services/floor"
	"github.com/jinjinsansan/hachikai/services/network"
	"github.com/jinjinsansan/hachikai/services/obligation"
	"github.com/jinjinsansan/hachikai/services/reset"
	"github.com/jinjinsansan/hachikai/services/sanction"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redisfx.Module,
		clock.Module,
		objectstore.Module,
		fx.Provide(provideSnowflakeNode),
		fx.Invoke(autoMigrate, db.Metric),

		asynqfx.Client,
		asynqfx.Server,
		asynqfx.Scheduler,

		floor.Module,
		debt.Module,
		obligation.Module,
		activity.Module,
		anomaly.Module,
		sanction.Module,
		reset.Module,
		network.Module,

		health.Module,
		httpapi.Module,
		server.ProvideHTTPServer,

		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func autoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&floor.TierState{},
		&debt.Entry{},
		&activity.Record{},
		&anomaly.SuspiciousActivity{},
		&sanction.Sanction{},
		&network.Profile{},
	)
}
