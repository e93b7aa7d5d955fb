package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	analyticsdomain "github.com/cambridgetcg/rewardspro/internal/analytics/domain"
	cashbackdomain "github.com/cambridgetcg/rewardspro/internal/cashback/domain"
	"github.com/cambridgetcg/rewardspro/internal/clock"
	customerdomain "github.com/cambridgetcg/rewardspro/internal/customer/domain"
	tierdomain "github.com/cambridgetcg/rewardspro/internal/tier/domain"
	"github.com/cambridgetcg/rewardspro/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	trailingYear    = 365 * 24 * time.Hour
	trailingQuarter = 90 * 24 * time.Hour
	trailingMonth   = 30 * 24 * time.Hour
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

	repo repository.Repository[analyticsdomain.CustomerAnalytics]
}

func NewService(p Params) analyticsdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("analytics.service"),
		genID: p.GenID,
		clock: p.Clock,

		repo: repository.ProvideStore[analyticsdomain.CustomerAnalytics](p.DB),
	}
}

func (s *Service) Aggregate(ctx context.Context, customerID snowflake.ID, now time.Time) (analyticsdomain.SpendingSnapshot, error) {
	var snapshot analyticsdomain.SpendingSnapshot

	lifetime, err := s.sumEligible(ctx, customerID, nil)
	if err != nil {
		return snapshot, err
	}
	windowStart := now.Add(-trailingYear)
	trailing, err := s.sumEligible(ctx, customerID, &windowStart)
	if err != nil {
		return snapshot, err
	}

	snapshot.LifetimeCents = lifetime
	snapshot.TrailingYearCents = trailing
	return snapshot, nil
}

func (s *Service) Recompute(ctx context.Context, customerID snowflake.ID) (*analyticsdomain.CustomerAnalytics, error) {
	var customer customerdomain.Customer
	if err := s.db.WithContext(ctx).Where("id = ?", customerID).First(&customer).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, analyticsdomain.ErrCustomerNotFound
		}
		return nil, err
	}

	now := s.clock.Now()

	lifetime, err := s.sumEligible(ctx, customerID, nil)
	if err != nil {
		return nil, err
	}
	yearStart := now.Add(-trailingYear)
	yearly, err := s.sumEligible(ctx, customerID, &yearStart)
	if err != nil {
		return nil, err
	}
	quarterStart := now.Add(-trailingQuarter)
	quarterly, err := s.sumEligible(ctx, customerID, &quarterStart)
	if err != nil {
		return nil, err
	}
	monthStart := now.Add(-trailingMonth)
	monthly, err := s.sumEligible(ctx, customerID, &monthStart)
	if err != nil {
		return nil, err
	}

	var orderCount int64
	if err := s.db.WithContext(ctx).
		Model(&cashbackdomain.CashbackTransaction{}).
		Where("customer_id = ? AND status IN ?", customerID, countedStatuses()).
		Count(&orderCount).Error; err != nil {
		return nil, err
	}

	var upgradeCount int64
	if err := s.db.WithContext(ctx).
		Table("tier_change_logs").
		Where("customer_id = ? AND change_type = ?", customerID, "AUTOMATIC_UPGRADE").
		Count(&upgradeCount).Error; err != nil {
		return nil, err
	}

	daysInTier, currentTierID, err := s.currentTierTenure(ctx, customerID, now)
	if err != nil {
		return nil, err
	}

	progress, err := s.nextTierProgress(ctx, customer.MerchantID, currentTierID, analyticsdomain.SpendingSnapshot{
		LifetimeCents:     lifetime,
		TrailingYearCents: yearly,
	})
	if err != nil {
		return nil, err
	}

	record, err := s.repo.FindOne(ctx, &analyticsdomain.CustomerAnalytics{CustomerID: customerID})
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &analyticsdomain.CustomerAnalytics{
			ID:         s.genID.Generate(),
			MerchantID: customer.MerchantID,
			CustomerID: customerID,
			CreatedAt:  now,
		}
	}
	record.LifetimeSpendCents = lifetime
	record.YearlySpendCents = yearly
	record.QuarterlySpendCents = quarterly
	record.MonthlySpendCents = monthly
	record.OrderCount = orderCount
	record.TierUpgradeCount = upgradeCount
	record.DaysInCurrentTier = daysInTier
	record.NextTierProgressPct = progress
	record.ComputedAt = now
	record.UpdatedAt = now

	if err := s.repo.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Service) Get(ctx context.Context, customerIDRaw string) (*analyticsdomain.CustomerAnalytics, error) {
	customerID, err := snowflake.ParseString(customerIDRaw)
	if err != nil || customerID == 0 {
		return nil, analyticsdomain.ErrInvalidCustomer
	}
	record, err := s.repo.FindOne(ctx, &analyticsdomain.CustomerAnalytics{CustomerID: customerID})
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}
	return s.Recompute(ctx, customerID)
}

func (s *Service) sumEligible(ctx context.Context, customerID snowflake.ID, since *time.Time) (int64, error) {
	query := s.db.WithContext(ctx).
		Model(&cashbackdomain.CashbackTransaction{}).
		Select("COALESCE(SUM(eligible_amount_cents), 0)").
		Where("customer_id = ? AND status IN ?", customerID, countedStatuses())
	if since != nil {
		query = query.Where("created_at >= ?", *since)
	}
	var total int64
	if err := query.Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// currentTierTenure reads the active membership row directly; the membership
// package sits above this one in the dependency order.
func (s *Service) currentTierTenure(ctx context.Context, customerID snowflake.ID, now time.Time) (int64, snowflake.ID, error) {
	var row struct {
		TierID     snowflake.ID
		AssignedAt time.Time
	}
	err := s.db.WithContext(ctx).
		Table("customer_memberships").
		Select("tier_id, assigned_at").
		Where("customer_id = ? AND is_active = ?", customerID, true).
		Take(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	days := int64(now.Sub(row.AssignedAt).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days, row.TierID, nil
}

// nextTierProgress measures qualifying spend against the cheapest threshold
// strictly above the current tier's rate. Top tier reports 100.
func (s *Service) nextTierProgress(ctx context.Context, merchantID, currentTierID snowflake.ID, spend analyticsdomain.SpendingSnapshot) (int64, error) {
	var tiers []tierdomain.Tier
	if err := s.db.WithContext(ctx).
		Where("merchant_id = ? AND is_active = ?", merchantID, true).
		Find(&tiers).Error; err != nil {
		return 0, err
	}
	if len(tiers) == 0 {
		return 0, nil
	}

	var currentBps int64
	for _, tier := range tiers {
		if tier.ID == currentTierID {
			currentBps = tier.CashbackBps
		}
	}

	var next *tierdomain.Tier
	for i := range tiers {
		tier := tiers[i]
		if tier.IsBase() || tier.CashbackBps <= currentBps {
			continue
		}
		if next == nil || *tier.MinSpendCents < *next.MinSpendCents {
			next = &tiers[i]
		}
	}
	if next == nil {
		return 100, nil
	}

	qualifying := tierdomain.QualifyingSpend{
		LifetimeCents:     spend.LifetimeCents,
		TrailingYearCents: spend.TrailingYearCents,
	}.For(next.EvaluationPeriod)
	if qualifying <= 0 {
		return 0, nil
	}
	pct := qualifying * 100 / *next.MinSpendCents
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}

func countedStatuses() []cashbackdomain.TransactionStatus {
	return []cashbackdomain.TransactionStatus{
		cashbackdomain.StatusCompleted,
		cashbackdomain.StatusSyncedExternal,
	}
}
