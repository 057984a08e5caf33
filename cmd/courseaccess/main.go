package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/courseaccess/internal/account"
	"github.com/smallbiznis/courseaccess/internal/auth"
	"github.com/smallbiznis/courseaccess/internal/clock"
	"github.com/smallbiznis/courseaccess/internal/config"
	"github.com/smallbiznis/courseaccess/internal/fulfillment"
	"github.com/smallbiznis/courseaccess/internal/migration"
	"github.com/smallbiznis/courseaccess/internal/observability"
	"github.com/smallbiznis/courseaccess/internal/providers"
	"github.com/smallbiznis/courseaccess/internal/server"
	"github.com/smallbiznis/courseaccess/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		account.Module,
		auth.Module,
		providers.Module,
		fulfillment.Module,

		server.Module,

		fx.WithLogger(observability.FxLogger),
	)
	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
