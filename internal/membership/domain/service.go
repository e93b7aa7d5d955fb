package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/cambridgetcg/rewardspro/pkg/db/pagination"
)

// Service owns tier membership transitions.
type Service interface {
	// AssignInitial places a brand-new customer on the resolved tier,
	// normally the base tier. Fails with ErrMembershipExists when the
	// customer already has an active membership.
	AssignInitial(ctx context.Context, customerID snowflake.ID) error
	// Evaluate re-resolves the customer's tier from current spend. A
	// manual membership without a past end date is left alone. No-op
	// when the resolved tier matches the active one.
	Evaluate(ctx context.Context, customerID snowflake.ID) (*EvaluationResult, error)
	// AssignManually overrides the resolver. An EndDate schedules an
	// automatic re-evaluation once it passes.
	AssignManually(ctx context.Context, req ManualAssignRequest) (*CustomerMembership, error)
	// RevertExpired re-evaluates every customer whose manual membership
	// has passed its end date. One customer's failure never aborts the
	// sweep.
	RevertExpired(ctx context.Context, merchantID snowflake.ID) (*RevertResult, error)
	// EvaluateAll re-evaluates every customer of a merchant.
	EvaluateAll(ctx context.Context, merchantID snowflake.ID) (*EvaluateAllResult, error)
	// ActiveMembership returns the customer's single active row.
	ActiveMembership(ctx context.Context, customerID string) (*CustomerMembership, error)
	// ListChangeLog pages a customer's transition history, newest first.
	ListChangeLog(ctx context.Context, req ChangeLogRequest) (ChangeLogResponse, error)
}

// EvaluationResult reports what Evaluate decided.
type EvaluationResult struct {
	Changed    bool                `json:"changed"`
	Membership *CustomerMembership `json:"membership,omitempty"`
	ChangeType ChangeType          `json:"change_type,omitempty"`
}

type ManualAssignRequest struct {
	CustomerID string  `json:"customer_id"`
	TierID     string  `json:"tier_id"`
	AssignedBy string  `json:"assigned_by"`
	Reason     string  `json:"reason"`
	EndDate    *string `json:"end_date,omitempty"`
}

// RevertResult summarizes a RevertExpired sweep.
type RevertResult struct {
	Scanned  int `json:"scanned"`
	Reverted int `json:"reverted"`
	Errors   int `json:"errors"`
}

// EvaluateAllResult summarizes an EvaluateAll sweep.
type EvaluateAllResult struct {
	Evaluated int `json:"evaluated"`
	Changed   int `json:"changed"`
	Errors    int `json:"errors"`
}

type ChangeLogRequest struct {
	CustomerID string
	PageToken  string
	PageSize   int32
}

type ChangeLogResponse struct {
	Entries  []TierChangeLog     `json:"entries"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

var (
	ErrInvalidCustomer    = errors.New("invalid_customer")
	ErrCustomerNotFound   = errors.New("customer_not_found")
	ErrInvalidTier        = errors.New("invalid_tier")
	ErrTierNotFound       = errors.New("tier_not_found")
	ErrInvalidEndDate     = errors.New("invalid_end_date")
	ErrInvalidAssigner    = errors.New("invalid_assigner")
	ErrMembershipExists   = errors.New("membership_exists")
	ErrMembershipNotFound = errors.New("membership_not_found")
	ErrNoTiersConfigured  = errors.New("no_tiers_configured")
)
