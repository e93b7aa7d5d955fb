package domain

import (
	"math"
	"strings"
)

// Gateways that settle with value the customer already holds. Orders paid
// this way earn no cashback on that portion.
var excludedGateways = map[string]bool{
	"gift_card":    true,
	"store_credit": true,
}

// EligibleAmountCents computes the order amount that earns cashback.
// Only SUCCESS legs of kind SALE or CAPTURE count. A CAPTURE whose parent
// AUTHORIZATION is present in the same event supersedes the authorization
// so the amount is not counted twice. Excluded gateways contribute nothing.
func EligibleAmountCents(legs []PaymentLeg) int64 {
	captured := make(map[string]bool)
	for _, leg := range legs {
		if leg.Kind == LegKindCapture && leg.Status == LegStatusSuccess && leg.ParentTransactionID != nil {
			captured[*leg.ParentTransactionID] = true
		}
	}

	var total int64
	for _, leg := range legs {
		if leg.Status != LegStatusSuccess {
			continue
		}
		if excludedGateways[strings.ToLower(strings.TrimSpace(leg.Gateway))] {
			continue
		}
		switch leg.Kind {
		case LegKindSale, LegKindCapture:
			total += leg.AmountCents
		case LegKindAuthorization:
			if leg.TransactionID != "" && captured[leg.TransactionID] {
				continue
			}
			// An authorization with no capture in the event is not
			// settled money and earns nothing.
		}
	}
	return total
}

// ParseLegKind maps a wire value onto a known leg kind. Unknown kinds are
// dropped at the boundary rather than guessed at.
func ParseLegKind(value string) (LegKind, bool) {
	switch LegKind(strings.ToUpper(strings.TrimSpace(value))) {
	case LegKindSale:
		return LegKindSale, true
	case LegKindCapture:
		return LegKindCapture, true
	case LegKindAuthorization:
		return LegKindAuthorization, true
	}
	return "", false
}

// ParseLegStatus maps a wire value onto a known leg status.
func ParseLegStatus(value string) (LegStatus, bool) {
	switch LegStatus(strings.ToUpper(strings.TrimSpace(value))) {
	case LegStatusSuccess:
		return LegStatusSuccess, true
	case LegStatusPending:
		return LegStatusPending, true
	case LegStatusFailure:
		return LegStatusFailure, true
	case LegStatusVoided:
		return LegStatusVoided, true
	}
	return "", false
}

// CashbackAmountCents applies a basis-point rate to an eligible amount,
// rounding half away from zero.
func CashbackAmountCents(eligibleCents, bps int64) int64 {
	if eligibleCents <= 0 || bps <= 0 {
		return 0
	}
	return int64(math.Round(float64(eligibleCents) * float64(bps) / 10000))
}
