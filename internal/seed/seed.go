// Package seed bootstraps the default merchant and base tier for OSS mode.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	merchantdomain "github.com/cambridgetcg/rewardspro/internal/merchant/domain"
	tierdomain "github.com/cambridgetcg/rewardspro/internal/tier/domain"
	"gorm.io/gorm"
)

const (
	defaultMerchantName = "Main"
	defaultMerchantSlug = "main"
	defaultBaseTierName = "Bronze"
	defaultBaseTierBps  = 100
)

// EnsureDefaultMerchant seeds the default merchant and its base tier.
// Safe to run on every startup.
func EnsureDefaultMerchant(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		merchant, err := ensureMerchantTx(ctx, tx, node)
		if err != nil {
			return err
		}
		return ensureBaseTierTx(ctx, tx, node, merchant.ID)
	})
}

func ensureMerchantTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (*merchantdomain.Merchant, error) {
	var merchant merchantdomain.Merchant
	err := tx.WithContext(ctx).Where("slug = ?", defaultMerchantSlug).First(&merchant).Error
	if err == nil {
		return &merchant, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	merchant = merchantdomain.Merchant{
		ID:        node.Generate(),
		Name:      defaultMerchantName,
		Slug:      defaultMerchantSlug,
		Currency:  "USD",
		IsDefault: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&merchant).Error; err != nil {
		return nil, err
	}
	return &merchant, nil
}

func ensureBaseTierTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, merchantID snowflake.ID) error {
	var count int64
	err := tx.WithContext(ctx).
		Model(&tierdomain.Tier{}).
		Where("merchant_id = ? AND min_spend_cents IS NULL", merchantID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	now := time.Now().UTC()
	tier := tierdomain.Tier{
		ID:               node.Generate(),
		MerchantID:       merchantID,
		Name:             defaultBaseTierName,
		CashbackBps:      defaultBaseTierBps,
		EvaluationPeriod: tierdomain.EvaluationPeriodAnnual,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return tx.WithContext(ctx).Create(&tier).Error
}
