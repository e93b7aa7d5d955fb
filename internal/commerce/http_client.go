package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cambridgetcg/rewardspro/internal/config"
	"github.com/cambridgetcg/rewardspro/internal/observability/tracing"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
}

// HTTPClient implements Client over the platform's store-credit REST API.
type HTTPClient struct {
	baseURL string
	token   string
	log     *zap.Logger
	http    *http.Client
}

func NewHTTPClient(p Params) Client {
	return &HTTPClient{
		baseURL: strings.TrimRight(p.Config.Commerce.BaseURL, "/"),
		token:   p.Config.Commerce.Token,
		log:     p.Log.Named("commerce.client"),
		http: tracing.WrapHTTPClient(&http.Client{
			Timeout: p.Config.Commerce.Timeout,
		}),
	}
}

type mutationRequest struct {
	CustomerRef string `json:"customer_ref"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type userError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type mutationResponse struct {
	TransactionID   string      `json:"transaction_id"`
	NewBalanceCents int64       `json:"new_balance_cents"`
	UserErrors      []userError `json:"userErrors"`
}

type balanceResponse struct {
	BalanceCents int64       `json:"balance_cents"`
	UserErrors   []userError `json:"userErrors"`
}

func (c *HTTPClient) Credit(ctx context.Context, ref string, cents int64, currency string) (*Mutation, error) {
	return c.mutate(ctx, "/store_credit/credit", ref, cents, currency)
}

func (c *HTTPClient) Debit(ctx context.Context, ref string, cents int64, currency string) (*Mutation, error) {
	return c.mutate(ctx, "/store_credit/debit", ref, cents, currency)
}

func (c *HTTPClient) mutate(ctx context.Context, path, ref string, cents int64, currency string) (*Mutation, error) {
	payload, err := json.Marshal(mutationRequest{
		CustomerRef: ref,
		AmountCents: cents,
		Currency:    currency,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	// The platform dedupes mutations on this key.
	req.Header.Set("Idempotency-Key", uuid.NewString())

	var out mutationResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if len(out.UserErrors) > 0 {
		c.log.Warn("commerce platform rejected mutation",
			zap.String("path", path),
			zap.String("customer_ref", ref),
			zap.String("message", out.UserErrors[0].Message),
		)
		return nil, fmt.Errorf("%w: %s", ErrExternalRejected, out.UserErrors[0].Message)
	}
	return &Mutation{
		ExternalTransactionID: out.TransactionID,
		NewBalanceCents:       out.NewBalanceCents,
	}, nil
}

func (c *HTTPClient) Balance(ctx context.Context, ref string, currency string) (int64, error) {
	url := fmt.Sprintf("%s/store_credit/balance?customer_ref=%s&currency=%s", c.baseURL, ref, currency)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	var out balanceResponse
	if err := c.do(req, &out); err != nil {
		return 0, err
	}
	if len(out.UserErrors) > 0 {
		return 0, fmt.Errorf("%w: %s", ErrExternalRejected, out.UserErrors[0].Message)
	}
	return out.BalanceCents, nil
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrExternalUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: status %d: %s", ErrExternalRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrExternalUnavailable, err)
	}
	return nil
}
