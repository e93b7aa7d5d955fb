package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cambridgetcg/rewardspro/pkg/db/pagination"
	"gorm.io/gorm"
)

// Service owns the store-credit ledger and its reconciliation against the
// commerce platform.
type Service interface {
	// Append writes one entry inside the caller's transaction, deriving
	// BalanceAfter from the customer's cached balance and updating that
	// balance. The caller must hold the customer lock.
	Append(ctx context.Context, tx *gorm.DB, req AppendRequest) (*StoreCreditLedgerEntry, error)
	// ManualAdjust credits or debits a customer by operator action, then
	// pushes the mutation to the commerce platform best-effort.
	ManualAdjust(ctx context.Context, req AdjustRequest) (*StoreCreditLedgerEntry, error)
	// SyncCustomer reconciles one customer's cached balance against the
	// platform. Deltas within the epsilon tolerance only refresh
	// LastSyncedAt.
	SyncCustomer(ctx context.Context, customerID snowflake.ID) (*SyncOutcome, error)
	// SyncAll reconciles customers in chunks with bounded concurrency.
	// One customer's failure never aborts the batch.
	SyncAll(ctx context.Context, req SyncAllRequest) (*SyncAllResult, error)
	// Replay folds a customer's ledger and compares the result to the
	// cached balance.
	Replay(ctx context.Context, customerID snowflake.ID) (*ReplayResult, error)
	// ListByCustomer pages a customer's ledger, newest first.
	ListByCustomer(ctx context.Context, req ListRequest) (ListResponse, error)
}

type AppendRequest struct {
	CustomerID        snowflake.ID
	AmountCents       int64
	Type              EntryType
	Source            EntrySource
	ExternalReference *string
	Description       string
}

type AdjustRequest struct {
	CustomerID  string `json:"customer_id"`
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`
	AdjustedBy  string `json:"adjusted_by"`
}

// SyncOutcome reports one customer's reconciliation.
type SyncOutcome struct {
	CustomerID           snowflake.ID `json:"customer_id"`
	ExternalBalanceCents int64        `json:"external_balance_cents"`
	LocalBalanceCents    int64        `json:"local_balance_cents"`
	DeltaCents           int64        `json:"delta_cents"`
	Adjusted             bool         `json:"adjusted"`
}

type SyncAllRequest struct {
	MerchantID string `json:"merchant_id"`
	// StaleOnly restricts the sweep to customers never synced or synced
	// before OlderThan ago.
	StaleOnly bool          `json:"stale_only"`
	OlderThan time.Duration `json:"older_than"`
}

type SyncAllResult struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

// ReplayResult is the ledger integrity check output.
type ReplayResult struct {
	Entries              int   `json:"entries"`
	ComputedBalanceCents int64 `json:"computed_balance_cents"`
	CachedBalanceCents   int64 `json:"cached_balance_cents"`
	Consistent           bool  `json:"consistent"`
	FirstInconsistentIdx int   `json:"first_inconsistent_idx"`
}

type ListRequest struct {
	CustomerID string
	PageToken  string
	PageSize   int32
}

type ListResponse struct {
	Entries  []StoreCreditLedgerEntry `json:"entries"`
	PageInfo pagination.PageInfo      `json:"page_info"`
}

var (
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrCustomerNotFound    = errors.New("customer_not_found")
	ErrInvalidMerchant     = errors.New("invalid_merchant")
	ErrZeroAmount          = errors.New("zero_amount")
	ErrInvalidAdjuster     = errors.New("invalid_adjuster")
	ErrInsufficientBalance = errors.New("insufficient_balance")
)
