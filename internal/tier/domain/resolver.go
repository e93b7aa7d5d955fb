package domain

import "sort"

// SortForQualification orders tiers for the resolver walk: cashback rate
// descending, then threshold descending with the base tier last, then ID
// ascending. Equal-rate tiers therefore resolve to the harder threshold
// first, and creation order breaks exact ties deterministically.
func SortForQualification(tiers []Tier) []Tier {
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.CashbackBps != b.CashbackBps {
			return a.CashbackBps > b.CashbackBps
		}
		switch {
		case a.MinSpendCents == nil && b.MinSpendCents == nil:
			return a.ID < b.ID
		case a.MinSpendCents == nil:
			return false
		case b.MinSpendCents == nil:
			return true
		case *a.MinSpendCents != *b.MinSpendCents:
			return *a.MinSpendCents > *b.MinSpendCents
		}
		return a.ID < b.ID
	})
	return sorted
}

// ResolveQualifiedTier returns the highest-cashback tier whose threshold the
// spend snapshot meets, or the base tier when no threshold matches. Returns
// nil when the catalog has neither. Increasing spend under a fixed catalog
// never resolves to a lower cashback rate.
func ResolveQualifiedTier(tiers []Tier, spend QualifyingSpend) *Tier {
	var fallback *Tier
	for _, tier := range SortForQualification(tiers) {
		if !tier.IsActive {
			continue
		}
		if tier.MinSpendCents == nil {
			if fallback == nil {
				t := tier
				fallback = &t
			}
			continue
		}
		if spend.For(tier.EvaluationPeriod) >= *tier.MinSpendCents {
			t := tier
			return &t
		}
	}
	return fallback
}
