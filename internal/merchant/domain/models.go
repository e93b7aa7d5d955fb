// Package domain contains the merchant tenant model.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Merchant is the tenant that owns tiers, customers, and credit balances.
type Merchant struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Slug      string       `gorm:"type:text;not null;uniqueIndex" json:"slug"`
	Currency  string       `gorm:"type:text;not null;default:USD" json:"currency"`
	IsDefault bool         `gorm:"not null;default:false" json:"-"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Merchant) TableName() string { return "merchants" }

var (
	ErrInvalidMerchant  = errors.New("invalid_merchant")
	ErrMerchantNotFound = errors.New("merchant_not_found")
)
