package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/cambridgetcg/rewardspro/internal/analytics"
	"github.com/cambridgetcg/rewardspro/internal/audit"
	"github.com/cambridgetcg/rewardspro/internal/cashback"
	"github.com/cambridgetcg/rewardspro/internal/clock"
	"github.com/cambridgetcg/rewardspro/internal/commerce"
	"github.com/cambridgetcg/rewardspro/internal/config"
	"github.com/cambridgetcg/rewardspro/internal/creditledger"
	"github.com/cambridgetcg/rewardspro/internal/customer"
	"github.com/cambridgetcg/rewardspro/internal/events"
	"github.com/cambridgetcg/rewardspro/internal/locks"
	"github.com/cambridgetcg/rewardspro/internal/membership"
	"github.com/cambridgetcg/rewardspro/internal/merchant"
	"github.com/cambridgetcg/rewardspro/internal/migration"
	"github.com/cambridgetcg/rewardspro/internal/observability"
	"github.com/cambridgetcg/rewardspro/internal/scheduler"
	"github.com/cambridgetcg/rewardspro/internal/seed"
	"github.com/cambridgetcg/rewardspro/internal/server"
	"github.com/cambridgetcg/rewardspro/internal/tier"
	"github.com/cambridgetcg/rewardspro/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var version = "dev"

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		clock.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		fx.Provide(locks.NewKeyed),
		db.Module,
		fx.Invoke(func(conn *gorm.DB) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := migration.RunMigrations(sqlDB); err != nil {
				return err
			}
			return seed.EnsureDefaultMerchant(conn)
		}),
		commerce.Module,
		events.Module,
		audit.Module,
		merchant.Module,
		tier.Module,
		analytics.Module,
		membership.Module,
		customer.Module,
		creditledger.Module,
		cashback.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}
