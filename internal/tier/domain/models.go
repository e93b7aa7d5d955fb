// Package domain contains the tier catalog models and the qualification
// resolver.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EvaluationPeriod selects which spend aggregate a tier's threshold tests.
type EvaluationPeriod string

const (
	EvaluationPeriodAnnual   EvaluationPeriod = "ANNUAL"
	EvaluationPeriodLifetime EvaluationPeriod = "LIFETIME"
)

// Tier is a cashback level owned by a merchant. A nil MinSpendCents marks the
// base tier that every customer qualifies for. CashbackBps is the reward rate
// in basis points (100 bps = 1%).
type Tier struct {
	ID               snowflake.ID     `gorm:"primaryKey" json:"id"`
	MerchantID       snowflake.ID     `gorm:"not null;index;uniqueIndex:ux_tiers_merchant_name,priority:1" json:"merchant_id"`
	Name             string           `gorm:"type:text;not null;uniqueIndex:ux_tiers_merchant_name,priority:2" json:"name"`
	MinSpendCents    *int64           `gorm:"" json:"min_spend_cents,omitempty"`
	CashbackBps      int64            `gorm:"not null" json:"cashback_bps"`
	EvaluationPeriod EvaluationPeriod `gorm:"type:text;not null;default:ANNUAL" json:"evaluation_period"`
	IsActive         bool             `gorm:"not null;default:true" json:"is_active"`
	SortHint         int              `gorm:"not null;default:0" json:"sort_hint"`
	CreatedAt        time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Tier) TableName() string { return "tiers" }

// IsBase reports whether the tier is the always-qualifying fallback.
func (t Tier) IsBase() bool { return t.MinSpendCents == nil }

// QualifyingSpend is the spend snapshot the resolver evaluates thresholds
// against.
type QualifyingSpend struct {
	LifetimeCents     int64
	TrailingYearCents int64
}

// For returns the aggregate matching the tier's evaluation period.
func (q QualifyingSpend) For(period EvaluationPeriod) int64 {
	if period == EvaluationPeriodLifetime {
		return q.LifetimeCents
	}
	return q.TrailingYearCents
}
