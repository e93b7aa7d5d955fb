package domain

import (
	"context"
	"errors"
)

// Service manages the tier catalog.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Tier, error)
	Update(ctx context.Context, req UpdateRequest) (*Tier, error)
	Deactivate(ctx context.Context, merchantID, tierID string) error
	Get(ctx context.Context, merchantID, tierID string) (*Tier, error)
	List(ctx context.Context, merchantID string) ([]Tier, error)
	// ActiveTiers serves the resolver's read path through the catalog cache.
	ActiveTiers(ctx context.Context, merchantID string) ([]Tier, error)
}

type CreateRequest struct {
	MerchantID       string `json:"merchant_id"`
	Name             string `json:"name"`
	MinSpendCents    *int64 `json:"min_spend_cents"`
	CashbackBps      int64  `json:"cashback_bps"`
	EvaluationPeriod string `json:"evaluation_period"`
	SortHint         int    `json:"sort_hint"`
}

type UpdateRequest struct {
	MerchantID       string  `json:"merchant_id"`
	TierID           string  `json:"tier_id"`
	Name             *string `json:"name"`
	MinSpendCents    *int64  `json:"min_spend_cents"`
	ClearMinSpend    bool    `json:"clear_min_spend"`
	CashbackBps      *int64  `json:"cashback_bps"`
	EvaluationPeriod *string `json:"evaluation_period"`
	SortHint         *int    `json:"sort_hint"`
}

var (
	ErrInvalidMerchant         = errors.New("invalid_merchant")
	ErrInvalidTier             = errors.New("invalid_tier")
	ErrInvalidName             = errors.New("invalid_name")
	ErrInvalidCashbackRate     = errors.New("invalid_cashback_rate")
	ErrInvalidMinSpend         = errors.New("invalid_min_spend")
	ErrInvalidEvaluationPeriod = errors.New("invalid_evaluation_period")
	ErrDuplicateName           = errors.New("duplicate_tier_name")
	ErrDuplicateBaseTier       = errors.New("duplicate_base_tier")
	ErrTierNotFound            = errors.New("tier_not_found")
	ErrTierInUse               = errors.New("tier_in_use")
)
