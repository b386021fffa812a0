package awards

import (
	"slices"
	"time"
)

// Strategy names the order in which batches are consumed by a removal.
type Strategy string

const (
	StrategyFIFO          Strategy = "fifo"
	StrategyHighVolume    Strategy = "high_volume"
	StrategyVIP           Strategy = "vip"
	StrategyWeekendVolume Strategy = "weekend_volume"
	StrategyClaims        Strategy = "claims"
)

const (
	// HighVolumeTransits is the transit count from which a standard customer
	// is treated as a frequent traveller.
	HighVolumeTransits = 15

	// ClaimsThreshold is the number of qualifying claims that switches a
	// standard customer to the claims strategy.
	ClaimsThreshold = 3
)

// ResolveStrategy picks the removal strategy for a customer at asOf. Rules are
// checked in a fixed order and the first match wins.
func ResolveStrategy(p CustomerProfile, asOf time.Time) Strategy {
	sunday := asOf.Weekday() == time.Sunday
	manyTransits := p.TransitCount >= HighVolumeTransits

	switch {
	case p.Tier == TierVIP:
		return StrategyVIP
	case manyTransits && sunday:
		return StrategyWeekendVolume
	case p.ClaimCount >= ClaimsThreshold:
		return StrategyClaims
	case manyTransits:
		return StrategyHighVolume
	default:
		return StrategyFIFO
	}
}

// Order returns the batches the strategy may consume at asOf, in consumption
// order. Expired and empty batches are left out. The input slice is not
// reordered.
func (s Strategy) Order(batches []*MilesBatch, asOf time.Time) []*MilesBatch {
	candidates := make([]*MilesBatch, 0, len(batches))
	for _, b := range batches {
		if b.eligibleAt(asOf) {
			candidates = append(candidates, b)
		}
	}
	slices.SortStableFunc(candidates, s.compare)
	return candidates
}

func (s Strategy) compare(a, b *MilesBatch) int {
	switch s {
	case StrategyHighVolume:
		return firstNonZero(nonExpiringLast(a, b), a.GrantedOn.Compare(b.GrantedOn))
	case StrategyVIP, StrategyWeekendVolume:
		return firstNonZero(nonExpiringLast(a, b), compareExpiry(a, b))
	case StrategyClaims:
		// Within the same grant date the batch closest to expiring is kept longest.
		return firstNonZero(-nonExpiringLast(a, b), a.GrantedOn.Compare(b.GrantedOn), -compareExpiry(a, b))
	default:
		return a.GrantedOn.Compare(b.GrantedOn)
	}
}

// nonExpiringLast orders expiring batches before non-expiring ones.
func nonExpiringLast(a, b *MilesBatch) int {
	switch {
	case a.CanExpire() == b.CanExpire():
		return 0
	case a.CanExpire():
		return -1
	default:
		return 1
	}
}

// compareExpiry compares expiration dates. Pairs involving a non-expiring batch compare equal.
func compareExpiry(a, b *MilesBatch) int {
	if !a.CanExpire() || !b.CanExpire() {
		return 0
	}
	return a.ExpiresOn.Compare(*b.ExpiresOn)
}

// firstNonZero returns the first non-zero comparison result, or 0.
// It mirrors cmp.Or, which is unavailable before Go 1.22.
func firstNonZero(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}
