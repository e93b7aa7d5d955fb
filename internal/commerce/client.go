// Package commerce talks to the external commerce platform's store-credit
// API. Only the consumed surface is modeled.
package commerce

import (
	"context"
	"errors"
)

// Mutation is the platform's answer to a credit or debit.
type Mutation struct {
	ExternalTransactionID string
	NewBalanceCents       int64
}

// Client is the store-credit surface of the commerce platform. ref is the
// customer's identifier on the platform side.
type Client interface {
	// Credit adds store credit to the customer's external account.
	Credit(ctx context.Context, ref string, cents int64, currency string) (*Mutation, error)
	// Debit removes store credit from the customer's external account.
	Debit(ctx context.Context, ref string, cents int64, currency string) (*Mutation, error)
	// Balance reads the customer's external store-credit balance in cents.
	Balance(ctx context.Context, ref string, currency string) (int64, error)
}

var (
	// ErrExternalRejected means the platform processed the request and
	// said no (userErrors in the response body). Not retryable as-is.
	ErrExternalRejected = errors.New("external_rejected")
	// ErrExternalUnavailable covers transport failures and 5xx answers.
	// The operation may be retried.
	ErrExternalUnavailable = errors.New("external_unavailable")
)
