package awards

import "time"

// MilesBatch is a single grant of miles. Only RemainingAmount changes after
// creation, and it only ever goes down.
type MilesBatch struct {
	ID              string
	CustomerID      string
	TransitID       string
	GrantedOn       time.Time
	ExpiresOn       *time.Time // nil for non-expiring miles
	OriginalAmount  int
	RemainingAmount int
}

// CanExpire reports whether the batch carries an expiration date.
func (b *MilesBatch) CanExpire() bool {
	return b.ExpiresOn != nil
}

// ExpiredAt reports whether the batch has lazily expired at t.
func (b *MilesBatch) ExpiredAt(t time.Time) bool {
	return b.ExpiresOn != nil && !t.Before(*b.ExpiresOn)
}

// AmountAsOf returns the effective amount of the batch at t.
func (b *MilesBatch) AmountAsOf(t time.Time) int {
	if b.ExpiredAt(t) {
		return 0
	}
	return b.RemainingAmount
}

// eligibleAt reports whether the removal engine may take miles from the batch.
func (b *MilesBatch) eligibleAt(t time.Time) bool {
	return b.RemainingAmount > 0 && !b.ExpiredAt(t)
}

// Reduce takes up to amount miles from the batch and returns how many were
// actually taken. Expired batches are left untouched.
func (b *MilesBatch) Reduce(amount int, asOf time.Time) int {
	if amount <= 0 || b.ExpiredAt(asOf) {
		return 0
	}
	reduced := min(amount, b.RemainingAmount)
	b.RemainingAmount -= reduced
	return reduced
}
