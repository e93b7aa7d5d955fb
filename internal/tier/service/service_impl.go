package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cambridgetcg/rewardspro/internal/cache"
	"github.com/cambridgetcg/rewardspro/internal/clock"
	tierdomain "github.com/cambridgetcg/rewardspro/internal/tier/domain"
	"github.com/cambridgetcg/rewardspro/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	catalogCacheTTL     = 30 * time.Second
	catalogCacheEntries = 1024
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	repo repository.Repository[tierdomain.Tier]
	// catalog caches active tiers per merchant; every catalog write
	// invalidates the owning merchant's entry.
	catalog cache.Cache[snowflake.ID, []tierdomain.Tier]
}

func NewService(p Params) tierdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("tier.service"),
		genID: p.GenID,
		clock: p.Clock,

		repo:    repository.ProvideStore[tierdomain.Tier](p.DB),
		catalog: cache.NewTTLCache[snowflake.ID, []tierdomain.Tier](catalogCacheEntries),
	}
}

func (s *Service) Create(ctx context.Context, req tierdomain.CreateRequest) (*tierdomain.Tier, error) {
	merchantID, err := parseID(req.MerchantID, tierdomain.ErrInvalidMerchant)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, tierdomain.ErrInvalidName
	}
	if req.CashbackBps <= 0 {
		return nil, tierdomain.ErrInvalidCashbackRate
	}
	if req.MinSpendCents != nil && *req.MinSpendCents <= 0 {
		return nil, tierdomain.ErrInvalidMinSpend
	}
	period, err := parseEvaluationPeriod(req.EvaluationPeriod)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	record := &tierdomain.Tier{
		ID:               s.genID.Generate(),
		MerchantID:       merchantID,
		Name:             name,
		MinSpendCents:    req.MinSpendCents,
		CashbackBps:      req.CashbackBps,
		EvaluationPeriod: period,
		IsActive:         true,
		SortHint:         req.SortHint,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&tierdomain.Tier{}).
			Where("merchant_id = ? AND name = ?", merchantID, name).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return tierdomain.ErrDuplicateName
		}
		if record.MinSpendCents == nil {
			if err := tx.Model(&tierdomain.Tier{}).
				Where("merchant_id = ? AND min_spend_cents IS NULL AND is_active = ?", merchantID, true).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return tierdomain.ErrDuplicateBaseTier
			}
		}
		return tx.Create(record).Error
	})
	if err != nil {
		return nil, err
	}

	s.catalog.Delete(merchantID)
	return record, nil
}

func (s *Service) Update(ctx context.Context, req tierdomain.UpdateRequest) (*tierdomain.Tier, error) {
	merchantID, err := parseID(req.MerchantID, tierdomain.ErrInvalidMerchant)
	if err != nil {
		return nil, err
	}
	tierID, err := parseID(req.TierID, tierdomain.ErrInvalidTier)
	if err != nil {
		return nil, err
	}

	var record *tierdomain.Tier
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current tierdomain.Tier
		if err := tx.Where("id = ? AND merchant_id = ?", tierID, merchantID).First(&current).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return tierdomain.ErrTierNotFound
			}
			return err
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return tierdomain.ErrInvalidName
			}
			var count int64
			if err := tx.Model(&tierdomain.Tier{}).
				Where("merchant_id = ? AND name = ? AND id <> ?", merchantID, name, tierID).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return tierdomain.ErrDuplicateName
			}
			current.Name = name
		}
		if req.ClearMinSpend {
			var count int64
			if err := tx.Model(&tierdomain.Tier{}).
				Where("merchant_id = ? AND min_spend_cents IS NULL AND is_active = ? AND id <> ?", merchantID, true, tierID).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return tierdomain.ErrDuplicateBaseTier
			}
			current.MinSpendCents = nil
		} else if req.MinSpendCents != nil {
			if *req.MinSpendCents <= 0 {
				return tierdomain.ErrInvalidMinSpend
			}
			current.MinSpendCents = req.MinSpendCents
		}
		if req.CashbackBps != nil {
			if *req.CashbackBps <= 0 {
				return tierdomain.ErrInvalidCashbackRate
			}
			current.CashbackBps = *req.CashbackBps
		}
		if req.EvaluationPeriod != nil {
			period, err := parseEvaluationPeriod(*req.EvaluationPeriod)
			if err != nil {
				return err
			}
			current.EvaluationPeriod = period
		}
		if req.SortHint != nil {
			current.SortHint = *req.SortHint
		}
		current.UpdatedAt = s.clock.Now()

		if err := tx.Save(&current).Error; err != nil {
			return err
		}
		record = &current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.catalog.Delete(merchantID)
	return record, nil
}

func (s *Service) Deactivate(ctx context.Context, merchantIDRaw, tierIDRaw string) error {
	merchantID, err := parseID(merchantIDRaw, tierdomain.ErrInvalidMerchant)
	if err != nil {
		return err
	}
	tierID, err := parseID(tierIDRaw, tierdomain.ErrInvalidTier)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current tierdomain.Tier
		if err := tx.Where("id = ? AND merchant_id = ?", tierID, merchantID).First(&current).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return tierdomain.ErrTierNotFound
			}
			return err
		}

		var count int64
		if err := tx.Table("customer_memberships").
			Where("tier_id = ? AND is_active = ?", tierID, true).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return tierdomain.ErrTierInUse
		}

		return tx.Model(&tierdomain.Tier{}).
			Where("id = ?", tierID).
			Updates(map[string]any{
				"is_active":  false,
				"updated_at": s.clock.Now(),
			}).Error
	})
	if err != nil {
		return err
	}

	s.catalog.Delete(merchantID)
	return nil
}

func (s *Service) Get(ctx context.Context, merchantIDRaw, tierIDRaw string) (*tierdomain.Tier, error) {
	merchantID, err := parseID(merchantIDRaw, tierdomain.ErrInvalidMerchant)
	if err != nil {
		return nil, err
	}
	tierID, err := parseID(tierIDRaw, tierdomain.ErrInvalidTier)
	if err != nil {
		return nil, err
	}
	record, err := s.repo.FindOne(ctx, &tierdomain.Tier{ID: tierID, MerchantID: merchantID})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, tierdomain.ErrTierNotFound
	}
	return record, nil
}

func (s *Service) List(ctx context.Context, merchantIDRaw string) ([]tierdomain.Tier, error) {
	merchantID, err := parseID(merchantIDRaw, tierdomain.ErrInvalidMerchant)
	if err != nil {
		return nil, err
	}
	var tiers []tierdomain.Tier
	if err := s.db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		Order("sort_hint ASC, cashback_bps ASC, id ASC").
		Find(&tiers).Error; err != nil {
		return nil, err
	}
	return tiers, nil
}

func (s *Service) ActiveTiers(ctx context.Context, merchantIDRaw string) ([]tierdomain.Tier, error) {
	merchantID, err := parseID(merchantIDRaw, tierdomain.ErrInvalidMerchant)
	if err != nil {
		return nil, err
	}

	if cached, ok := s.catalog.Get(merchantID); ok {
		return cached, nil
	}

	var tiers []tierdomain.Tier
	if err := s.db.WithContext(ctx).
		Where("merchant_id = ? AND is_active = ?", merchantID, true).
		Order("cashback_bps DESC, id ASC").
		Find(&tiers).Error; err != nil {
		return nil, err
	}

	s.catalog.Set(merchantID, tiers, catalogCacheTTL)
	return tiers, nil
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}

func parseEvaluationPeriod(value string) (tierdomain.EvaluationPeriod, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "", string(tierdomain.EvaluationPeriodAnnual):
		return tierdomain.EvaluationPeriodAnnual, nil
	case string(tierdomain.EvaluationPeriodLifetime):
		return tierdomain.EvaluationPeriodLifetime, nil
	default:
		return "", tierdomain.ErrInvalidEvaluationPeriod
	}
}
