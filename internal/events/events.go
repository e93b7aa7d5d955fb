package events

// Loyalty event types consumed by downstream integrations.
const (
	EventCashbackCredited = "cashback.credited"
	EventTierChanged      = "tier.changed"
	EventCreditSynced     = "credit.synced"
	EventCreditAdjusted   = "credit.adjusted"
)

// CashbackCreditedPayload captures the minimal data downstream consumers
// need to react to an earned credit.
type CashbackCreditedPayload struct {
	TransactionID       string `json:"transaction_id"`
	CustomerID          string `json:"customer_id"`
	OrderID             string `json:"order_id"`
	CashbackAmountCents int64  `json:"cashback_amount_cents"`
	Currency            string `json:"currency"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p CashbackCreditedPayload) ToMap() map[string]any {
	return map[string]any{
		"transaction_id":        p.TransactionID,
		"customer_id":           p.CustomerID,
		"order_id":              p.OrderID,
		"cashback_amount_cents": p.CashbackAmountCents,
		"currency":              p.Currency,
	}
}

// TierChangedPayload announces a membership transition.
type TierChangedPayload struct {
	CustomerID string `json:"customer_id"`
	FromTierID string `json:"from_tier_id,omitempty"`
	ToTierID   string `json:"to_tier_id"`
	ChangeType string `json:"change_type"`
}

func (p TierChangedPayload) ToMap() map[string]any {
	payload := map[string]any{
		"customer_id": p.CustomerID,
		"to_tier_id":  p.ToTierID,
		"change_type": p.ChangeType,
	}
	if p.FromTierID != "" {
		payload["from_tier_id"] = p.FromTierID
	}
	return payload
}

// CreditAdjustedPayload announces an operator credit or debit.
type CreditAdjustedPayload struct {
	EntryID           string `json:"entry_id"`
	CustomerID        string `json:"customer_id"`
	AmountCents       int64  `json:"amount_cents"`
	BalanceAfterCents int64  `json:"balance_after_cents"`
}

func (p CreditAdjustedPayload) ToMap() map[string]any {
	return map[string]any{
		"entry_id":            p.EntryID,
		"customer_id":         p.CustomerID,
		"amount_cents":        p.AmountCents,
		"balance_after_cents": p.BalanceAfterCents,
	}
}

// CreditSyncedPayload announces a reconciliation that moved the balance.
type CreditSyncedPayload struct {
	EntryID           string `json:"entry_id"`
	CustomerID        string `json:"customer_id"`
	DeltaCents        int64  `json:"delta_cents"`
	BalanceAfterCents int64  `json:"balance_after_cents"`
}

func (p CreditSyncedPayload) ToMap() map[string]any {
	return map[string]any{
		"entry_id":            p.EntryID,
		"customer_id":         p.CustomerID,
		"delta_cents":         p.DeltaCents,
		"balance_after_cents": p.BalanceAfterCents,
	}
}
