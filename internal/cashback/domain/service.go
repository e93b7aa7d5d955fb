package domain

import (
	"context"
	"errors"

	"github.com/cambridgetcg/rewardspro/pkg/db/pagination"
)

// Service processes paid-order events into cashback credits.
type Service interface {
	// ProcessOrderPaid runs the full pipeline: idempotency check,
	// eligibility, atomic credit, tier evaluation, external sync. A
	// duplicate order returns the existing transaction with no side
	// effects.
	ProcessOrderPaid(ctx context.Context, event OrderPaidEvent) (*ProcessResult, error)
	// RetryExternalSync re-pushes a transaction stuck in
	// EXTERNAL_SYNC_FAILED to the commerce platform.
	RetryExternalSync(ctx context.Context, transactionID string) (*CashbackTransaction, error)
	// ListByCustomer pages a customer's cashback history, newest first.
	ListByCustomer(ctx context.Context, req ListRequest) (ListResponse, error)
}

// ProcessResult reports what a ProcessOrderPaid call did.
type ProcessResult struct {
	Transaction *CashbackTransaction `json:"transaction,omitempty"`
	Duplicate   bool                 `json:"duplicate"`
	// Skipped is true when the event had no eligible amount.
	Skipped bool `json:"skipped"`
}

type ListRequest struct {
	CustomerID string
	PageToken  string
	PageSize   int32
}

type ListResponse struct {
	Transactions []CashbackTransaction `json:"transactions"`
	PageInfo     pagination.PageInfo   `json:"page_info"`
}

var (
	ErrInvalidMerchant    = errors.New("invalid_merchant")
	ErrInvalidOrder       = errors.New("invalid_order")
	ErrInvalidCustomerRef = errors.New("invalid_customer_ref")
	ErrInvalidTransaction = errors.New("invalid_transaction")
	ErrTxnNotFound        = errors.New("transaction_not_found")
	ErrSyncNotNeeded      = errors.New("sync_not_needed")
)
