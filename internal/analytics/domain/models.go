// Package domain contains the spending aggregates derived from cashback
// history.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SpendingSnapshot is the qualifying-spend view the tier resolver consumes.
// Sums cover transactions in COMPLETED or SYNCED_EXTERNAL status only; the
// trailing-year window is measured back from the moment of evaluation.
type SpendingSnapshot struct {
	LifetimeCents     int64 `json:"lifetime_cents"`
	TrailingYearCents int64 `json:"trailing_year_cents"`
}

// CustomerAnalytics is a derived cache row. Every field is rebuildable from
// the transaction and change-log tables via Recompute; nothing writes it by
// hand.
type CustomerAnalytics struct {
	ID                  snowflake.ID `gorm:"primaryKey" json:"id"`
	MerchantID          snowflake.ID `gorm:"not null;index" json:"merchant_id"`
	CustomerID          snowflake.ID `gorm:"not null;uniqueIndex" json:"customer_id"`
	LifetimeSpendCents  int64        `gorm:"not null;default:0" json:"lifetime_spend_cents"`
	YearlySpendCents    int64        `gorm:"not null;default:0" json:"yearly_spend_cents"`
	QuarterlySpendCents int64        `gorm:"not null;default:0" json:"quarterly_spend_cents"`
	MonthlySpendCents   int64        `gorm:"not null;default:0" json:"monthly_spend_cents"`
	OrderCount          int64        `gorm:"not null;default:0" json:"order_count"`
	TierUpgradeCount    int64        `gorm:"not null;default:0" json:"tier_upgrade_count"`
	DaysInCurrentTier   int64        `gorm:"not null;default:0" json:"days_in_current_tier"`
	// NextTierProgressPct is how far the customer's qualifying spend has
	// moved toward the next threshold, 0 to 100. 100 means top tier.
	NextTierProgressPct int64     `gorm:"not null;default:0" json:"next_tier_progress_pct"`
	ComputedAt          time.Time `gorm:"not null" json:"computed_at"`
	CreatedAt           time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt           time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (CustomerAnalytics) TableName() string { return "customer_analytics" }

// Service answers spend questions for the resolver and maintains the derived
// analytics rows.
type Service interface {
	// Aggregate returns the live qualifying-spend snapshot. Pure read.
	Aggregate(ctx context.Context, customerID snowflake.ID, now time.Time) (SpendingSnapshot, error)
	// Recompute rebuilds the customer's derived analytics row.
	Recompute(ctx context.Context, customerID snowflake.ID) (*CustomerAnalytics, error)
	// Get returns the cached row, recomputing when none exists yet.
	Get(ctx context.Context, customerID string) (*CustomerAnalytics, error)
}

var (
	ErrInvalidCustomer  = errors.New("invalid_customer")
	ErrCustomerNotFound = errors.New("customer_not_found")
)
