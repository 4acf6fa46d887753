package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jinjinsansan/hachikai/pkg/clock"
	"github.com/jinjinsansan/hachikai/pkg/config"
	"github.com/jinjinsansan/hachikai/pkg/db"
	"github.com/jinjinsansan/hachikai/pkg/logger"
	"github.com/jinjinsansan/hachikai/services/activity"
	"github.com/jinjinsansan/hachikai/services/anomaly"
	"github.com/jinjinsansan/hachikai/services/debt"
	"github.com/jinjinsansan/hachikai/services/floor"
	"github.com/jinjinsansan/hachikai/services/network"
	"github.com/jinjinsansan/hachikai/services/sanction"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type seedUser struct {
	id       string
	name     string
	wishlist []network.WishlistItem
}

var demoUsers = []seedUser{
	{id: "demo_001", name: "Taro Tanaka", wishlist: []network.WishlistItem{
		{ID: "item_001", Title: "Bluetooth speaker", Price: 8000, Priority: network.PriorityHigh},
	}},
	{id: "demo_002", name: "Hanako Sato", wishlist: []network.WishlistItem{
		{ID: "item_002", Title: "Yoga mat", Price: 3000, Priority: network.PriorityMedium},
	}},
	{id: "demo_003", name: "Ichiro Suzuki", wishlist: []network.WishlistItem{
		{ID: "item_003", Title: "Smartwatch", Price: 25000, Priority: network.PriorityLow},
	}},
	{id: "demo_004", name: "Misaki Yamada", wishlist: []network.WishlistItem{
		{ID: "item_004", Title: "Electric toothbrush", Price: 12000, Priority: network.PriorityHigh},
	}},
	{id: "demo_005", name: "Kenji Watanabe", wishlist: []network.WishlistItem{
		{ID: "item_005", Title: "Noise-cancelling headphones", Price: 35000, Priority: network.PriorityMedium},
	}},
}

func main() {
	cfg := config.LoadConfig()
	logger.New(logger.ConfigParams{Cfg: cfg})

	gdb := db.New(cfg, db.Dialect(cfg))
	if err := gdb.AutoMigrate(
		&floor.TierState{},
		&debt.Entry{},
		&activity.Record{},
		&anomaly.SuspiciousActivity{},
		&sanction.Sanction{},
		&network.Profile{},
	); err != nil {
		zap.L().Fatal("migration failed", zap.Error(err))
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		zap.L().Fatal("snowflake node", zap.Error(err))
	}

	engine := floor.NewEngine(floor.EngineParams{
		DB:   gdb,
		Debt: debt.NewService(debt.ServiceParams{DB: gdb, Node: node, Config: cfg}),
		Rand: clock.NewRand(),
	})

	ctx := context.Background()
	today := clock.DateOf(clock.NewSystemClock().Now())

	for _, u := range demoUsers {
		if err := seedOne(ctx, gdb, engine, u, today); err != nil {
			zap.L().Error("seed failed", zap.String("user_id", u.id), zap.Error(err))
			os.Exit(1)
		}
	}

	fmt.Printf("seeded %d demo users\n", len(demoUsers))
}

func seedOne(ctx context.Context, gdb *gorm.DB, engine *floor.Engine, u seedUser, today string) error {
	st, err := engine.State(ctx, u.id)
	if err == nil && st != nil {
		zap.L().Info("user already seeded", zap.String("user_id", u.id))
		return nil
	}

	t := engine.InitialTier()
	if _, err := engine.Create(ctx, u.id, t, today); err != nil {
		return err
	}

	wishlist, err := json.Marshal(u.wishlist)
	if err != nil {
		return err
	}

	return gdb.WithContext(ctx).Save(&network.Profile{
		UserID:   u.id,
		Name:     u.name,
		Tier:     t,
		Wishlist: datatypes.JSON(wishlist),
	}).Error
}
