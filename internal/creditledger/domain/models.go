// Package domain contains the append-only store-credit ledger models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EntryType classifies what produced a ledger entry.
type EntryType string

const (
	EntryManualAdjustment EntryType = "MANUAL_ADJUSTMENT"
	EntryExternalSync     EntryType = "EXTERNAL_SYNC"
	EntryCashbackEarned   EntryType = "CASHBACK_EARNED"
	EntryOrderPayment     EntryType = "ORDER_PAYMENT"
	EntryRefundCredit     EntryType = "REFUND_CREDIT"
	EntryInitialImport    EntryType = "INITIAL_IMPORT"
)

// EntrySource records which surface wrote the entry.
type EntrySource string

const (
	SourceAppManual      EntrySource = "APP_MANUAL"
	SourceAppCashback    EntrySource = "APP_CASHBACK"
	SourceExternalAdmin  EntrySource = "EXTERNAL_ADMIN"
	SourceExternalOrder  EntrySource = "EXTERNAL_ORDER"
	SourceReconciliation EntrySource = "RECONCILIATION"
)

// StoreCreditLedgerEntry is one immutable balance movement.
// BalanceAfterCents is always derived from the previous cached balance inside
// the writing transaction; callers never supply it.
type StoreCreditLedgerEntry struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	MerchantID        snowflake.ID `gorm:"not null;index" json:"merchant_id"`
	CustomerID        snowflake.ID `gorm:"not null;index" json:"customer_id"`
	AmountCents       int64        `gorm:"not null" json:"amount_cents"`
	BalanceAfterCents int64        `gorm:"not null" json:"balance_after_cents"`
	Type              EntryType    `gorm:"type:text;not null;index" json:"type"`
	Source            EntrySource  `gorm:"type:text;not null" json:"source"`
	ExternalReference *string      `gorm:"type:text" json:"external_reference,omitempty"`
	Description       string       `gorm:"type:text;not null" json:"description"`
	ReconciledAt      *time.Time   `gorm:"" json:"reconciled_at,omitempty"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

// TableName sets the database table name.
func (StoreCreditLedgerEntry) TableName() string { return "store_credit_ledger_entries" }
