// Package domain contains persistence models for loyalty customers.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Customer is a loyalty program member. StoreCreditBalanceCents is a cache of
// the latest ledger BalanceAfter and is only written alongside a ledger append.
type Customer struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	MerchantID  snowflake.ID `gorm:"not null;index;uniqueIndex:ux_customers_merchant_ref,priority:1" json:"merchant_id"`
	ExternalRef string       `gorm:"type:text;not null;uniqueIndex:ux_customers_merchant_ref,priority:2" json:"external_ref"`
	Email       string       `gorm:"type:text;not null;index" json:"email"`
	Currency    string       `gorm:"type:text;not null;default:USD" json:"currency"`

	StoreCreditBalanceCents int64      `gorm:"not null;default:0" json:"store_credit_balance_cents"`
	LastSyncedAt            *time.Time `gorm:"" json:"last_synced_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Customer) TableName() string { return "customers" }
