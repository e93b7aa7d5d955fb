package domain

import (
	"context"
	"errors"
	"time"

	"github.com/cambridgetcg/rewardspro/pkg/db/pagination"
)

// Service manages loyalty customer records.
type Service interface {
	// FindOrCreate upserts a customer by (merchant, external ref). New
	// customers receive the catalog's base tier via the membership service.
	FindOrCreate(ctx context.Context, req FindOrCreateRequest) (*Customer, error)
	GetByID(ctx context.Context, id string) (*Customer, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type FindOrCreateRequest struct {
	MerchantID  string
	ExternalRef string
	Email       string
	Currency    string
}

type ListRequest struct {
	MerchantID  string
	Email       string
	PageToken   string
	PageSize    int32
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

type ListResponse struct {
	Customers []Customer          `json:"customers"`
	PageInfo  pagination.PageInfo `json:"page_info"`
}

var (
	ErrInvalidMerchant    = errors.New("invalid_merchant")
	ErrInvalidCustomer    = errors.New("invalid_customer")
	ErrInvalidExternalRef = errors.New("invalid_external_ref")
	ErrCustomerNotFound   = errors.New("customer_not_found")
)
