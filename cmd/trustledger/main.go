package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/trustledger/internal/audit"
	"github.com/smallbiznis/trustledger/internal/clock"
	"github.com/smallbiznis/trustledger/internal/config"
	"github.com/smallbiznis/trustledger/internal/migration"
	"github.com/smallbiznis/trustledger/internal/observability"
	"github.com/smallbiznis/trustledger/internal/reference"
	"github.com/smallbiznis/trustledger/internal/replenishment"
	"github.com/smallbiznis/trustledger/internal/retainer"
	"github.com/smallbiznis/trustledger/internal/server"
	"github.com/smallbiznis/trustledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Ledger
		audit.Module,
		reference.Module,
		replenishment.Module,
		retainer.Module,

		server.Module,

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
