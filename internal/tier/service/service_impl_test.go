package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cambridgetcg/rewardspro/internal/cache"
	"github.com/cambridgetcg/rewardspro/internal/clock"
	membershipdomain "github.com/cambridgetcg/rewardspro/internal/membership/domain"
	tierdomain "github.com/cambridgetcg/rewardspro/internal/tier/domain"
	"github.com/cambridgetcg/rewardspro/pkg/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTierTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&tierdomain.Tier{}, &membershipdomain.CustomerMembership{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTierService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return &Service{
		db:      db,
		log:     zap.NewNop(),
		genID:   node,
		clock:   clock.SystemClock{},
		repo:    repository.ProvideStore[tierdomain.Tier](db),
		catalog: cache.NewTTLCache[snowflake.ID, []tierdomain.Tier](16),
	}
}

const testMerchantID = "7001"

func minSpend(v int64) *int64 { return &v }

func TestCreateTierValidation(t *testing.T) {
	svc := newTierService(t, setupTierTestDB(t))
	ctx := context.Background()

	if _, err := svc.Create(ctx, tierdomain.CreateRequest{MerchantID: testMerchantID, Name: "  ", CashbackBps: 100}); !errors.Is(err, tierdomain.ErrInvalidName) {
		t.Fatalf("expected invalid name, got %v", err)
	}
	if _, err := svc.Create(ctx, tierdomain.CreateRequest{MerchantID: testMerchantID, Name: "Silver", CashbackBps: 0}); !errors.Is(err, tierdomain.ErrInvalidCashbackRate) {
		t.Fatalf("expected invalid rate, got %v", err)
	}
	if _, err := svc.Create(ctx, tierdomain.CreateRequest{MerchantID: testMerchantID, Name: "Silver", CashbackBps: 200, MinSpendCents: minSpend(0)}); !errors.Is(err, tierdomain.ErrInvalidMinSpend) {
		t.Fatalf("expected invalid min spend, got %v", err)
	}
	if _, err := svc.Create(ctx, tierdomain.CreateRequest{MerchantID: "nope", Name: "Silver", CashbackBps: 200}); !errors.Is(err, tierdomain.ErrInvalidMerchant) {
		t.Fatalf("expected invalid merchant, got %v", err)
	}
}

func TestCreateTierRejectsDuplicates(t *testing.T) {
	svc := newTierService(t, setupTierTestDB(t))
	ctx := context.Background()

	if _, err := svc.Create(ctx, tierdomain.CreateRequest{MerchantID: testMerchantID, Name: "Bronze", CashbackBps: 100}); err != nil {
		t.Fatalf("create base: %v", err)
	}

	_, err := svc.Create(ctx, tierdomain.CreateRequest{MerchantID: testMerchantID, Name: "Bronze", CashbackBps: 150, MinSpendCents: minSpend(10_000)})
	if !errors.Is(err, tierdomain.ErrDuplicateName) {
		t.Fatalf("expected duplicate name, got %v", err)
	}

	_, err = svc.Create(ctx, tierdomain.CreateRequest{MerchantID: testMerchantID, Name: "Starter", CashbackBps: 150})
	if !errors.Is(err, tierdomain.ErrDuplicateBaseTier) {
		t.Fatalf("expected duplicate base tier, got %v", err)
	}

	// A second base tier is fine on another merchant.
	if _, err := svc.Create(ctx, tierdomain.CreateRequest{MerchantID: "7002", Name: "Bronze", CashbackBps: 100}); err != nil {
		t.Fatalf("create on second merchant: %v", err)
	}
}

func TestUpdateTier(t *testing.T) {
	svc := newTierService(t, setupTierTestDB(t))
	ctx := context.Background()

	created, err := svc.Create(ctx, tierdomain.CreateRequest{
		MerchantID:    testMerchantID,
		Name:          "Silver",
		CashbackBps:   200,
		MinSpendCents: minSpend(50_000),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	newBps := int64(250)
	updated, err := svc.Update(ctx, tierdomain.UpdateRequest{
		MerchantID:  testMerchantID,
		TierID:      created.ID.String(),
		CashbackBps: &newBps,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.CashbackBps != 250 {
		t.Fatalf("cashback bps = %d, want 250", updated.CashbackBps)
	}
	if updated.MinSpendCents == nil || *updated.MinSpendCents != 50_000 {
		t.Fatalf("min spend changed unexpectedly: %+v", updated.MinSpendCents)
	}

	_, err = svc.Update(ctx, tierdomain.UpdateRequest{MerchantID: testMerchantID, TierID: "123"})
	if !errors.Is(err, tierdomain.ErrTierNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeactivateTierInUse(t *testing.T) {
	db := setupTierTestDB(t)
	svc := newTierService(t, db)
	ctx := context.Background()

	created, err := svc.Create(ctx, tierdomain.CreateRequest{
		MerchantID:    testMerchantID,
		Name:          "Gold",
		CashbackBps:   400,
		MinSpendCents: minSpend(200_000),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	membership := membershipdomain.CustomerMembership{
		ID:         9001,
		MerchantID: created.MerchantID,
		CustomerID: 8001,
		TierID:     created.ID,
		IsActive:   true,
		AssignedAt: time.Now().UTC(),
	}
	if err := db.Create(&membership).Error; err != nil {
		t.Fatalf("insert membership: %v", err)
	}

	err = svc.Deactivate(ctx, testMerchantID, created.ID.String())
	if !errors.Is(err, tierdomain.ErrTierInUse) {
		t.Fatalf("expected tier in use, got %v", err)
	}

	if err := db.Model(&membershipdomain.CustomerMembership{}).
		Where("id = ?", membership.ID).
		Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate membership: %v", err)
	}
	if err := svc.Deactivate(ctx, testMerchantID, created.ID.String()); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	got, err := svc.Get(ctx, testMerchantID, created.ID.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IsActive {
		t.Fatal("tier still active after deactivate")
	}
}

func TestActiveTiersCacheInvalidation(t *testing.T) {
	svc := newTierService(t, setupTierTestDB(t))
	ctx := context.Background()

	if _, err := svc.Create(ctx, tierdomain.CreateRequest{MerchantID: testMerchantID, Name: "Bronze", CashbackBps: 100}); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := svc.ActiveTiers(ctx, testMerchantID)
	if err != nil {
		t.Fatalf("active tiers: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("active tiers = %d, want 1", len(first))
	}

	// A catalog write must drop the cached list.
	if _, err := svc.Create(ctx, tierdomain.CreateRequest{
		MerchantID:    testMerchantID,
		Name:          "Silver",
		CashbackBps:   200,
		MinSpendCents: minSpend(50_000),
	}); err != nil {
		t.Fatalf("create second: %v", err)
	}

	second, err := svc.ActiveTiers(ctx, testMerchantID)
	if err != nil {
		t.Fatalf("active tiers: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("active tiers = %d, want 2", len(second))
	}
	if second[0].CashbackBps < second[1].CashbackBps {
		t.Fatal("active tiers not ordered by cashback rate descending")
	}
}
