// Package domain contains the cashback transaction models and the order
// event boundary types.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TransactionStatus tracks a cashback credit through external sync.
type TransactionStatus string

const (
	// StatusCompleted means the credit is committed locally.
	StatusCompleted TransactionStatus = "COMPLETED"
	// StatusSyncedExternal means the commerce platform accepted the credit.
	StatusSyncedExternal TransactionStatus = "SYNCED_EXTERNAL"
	// StatusExternalSyncFailed means the external push failed; the local
	// credit stands and reconciliation picks the customer up later.
	StatusExternalSyncFailed TransactionStatus = "EXTERNAL_SYNC_FAILED"
	// StatusRedeemed means the earned credit was spent.
	StatusRedeemed TransactionStatus = "REDEEMED"
)

// CashbackTransaction records one order's cashback credit. CashbackBpsSnapshot
// freezes the rate that produced CashbackAmountCents; later tier changes never
// rewrite history.
type CashbackTransaction struct {
	ID                    snowflake.ID      `gorm:"primaryKey" json:"id"`
	MerchantID            snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_cashback_merchant_order,priority:1" json:"merchant_id"`
	CustomerID            snowflake.ID      `gorm:"not null;index" json:"customer_id"`
	OrderID               string            `gorm:"type:text;not null;uniqueIndex:ux_cashback_merchant_order,priority:2" json:"order_id"`
	EligibleAmountCents   int64             `gorm:"not null" json:"eligible_amount_cents"`
	CashbackAmountCents   int64             `gorm:"not null" json:"cashback_amount_cents"`
	CashbackBpsSnapshot   int64             `gorm:"not null" json:"cashback_bps_snapshot"`
	Currency              string            `gorm:"type:text;not null" json:"currency"`
	Status                TransactionStatus `gorm:"type:text;not null;index" json:"status"`
	ExternalTransactionID *string           `gorm:"type:text" json:"external_transaction_id,omitempty"`
	CreatedAt             time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt             time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (CashbackTransaction) TableName() string { return "cashback_transactions" }

// CountsTowardSpend reports whether the transaction's eligible amount feeds
// the qualifying-spend aggregates.
func (t CashbackTransaction) CountsTowardSpend() bool {
	return t.Status == StatusCompleted || t.Status == StatusSyncedExternal
}

// LegKind classifies a payment leg on an incoming order event.
type LegKind string

const (
	LegKindSale          LegKind = "SALE"
	LegKindCapture       LegKind = "CAPTURE"
	LegKindAuthorization LegKind = "AUTHORIZATION"
)

// LegStatus is the processing state of a payment leg.
type LegStatus string

const (
	LegStatusSuccess LegStatus = "SUCCESS"
	LegStatusPending LegStatus = "PENDING"
	LegStatusFailure LegStatus = "FAILURE"
	LegStatusVoided  LegStatus = "VOIDED"
)

// PaymentLeg is a single settlement component of an order, already validated
// at the boundary. Legs with unrecognized kinds or statuses never reach this
// type.
type PaymentLeg struct {
	TransactionID       string
	Gateway             string
	Kind                LegKind
	Status              LegStatus
	AmountCents         int64
	ParentTransactionID *string
}

// OrderPaidEvent is the processor input built from the webhook payload.
type OrderPaidEvent struct {
	MerchantID    string
	OrderID       string
	CustomerRef   string
	CustomerEmail string
	Currency      string
	PaymentLegs   []PaymentLeg
}
