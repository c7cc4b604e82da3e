package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterly/internal/account"
	"github.com/smallbiznis/meterly/internal/billing"
	"github.com/smallbiznis/meterly/internal/cache"
	"github.com/smallbiznis/meterly/internal/clock"
	"github.com/smallbiznis/meterly/internal/config"
	"github.com/smallbiznis/meterly/internal/entitlement"
	"github.com/smallbiznis/meterly/internal/invoice"
	"github.com/smallbiznis/meterly/internal/migration"
	"github.com/smallbiznis/meterly/internal/observability"
	"github.com/smallbiznis/meterly/internal/price"
	"github.com/smallbiznis/meterly/internal/ratelimit"
	"github.com/smallbiznis/meterly/internal/scheduler"
	"github.com/smallbiznis/meterly/internal/server"
	"github.com/smallbiznis/meterly/internal/subscription"
	"github.com/smallbiznis/meterly/internal/usage"
	"github.com/smallbiznis/meterly/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,
		ratelimit.Module,

		// Domains
		account.Module,
		price.Module,
		subscription.Module,
		invoice.Module,
		usage.Module,
		entitlement.Module,
		scheduler.Module,
		billing.Module,

		server.Module,
		fx.Invoke(func(*billing.Engine) {}),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNodeID)
}
