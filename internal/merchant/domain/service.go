package domain

import "context"

// Service resolves merchant tenants.
type Service interface {
	Get(ctx context.Context, id string) (*Merchant, error)
	GetBySlug(ctx context.Context, slug string) (*Merchant, error)
	// Default returns the merchant seeded for single-tenant OSS mode.
	Default(ctx context.Context) (*Merchant, error)
	List(ctx context.Context) ([]Merchant, error)
}
