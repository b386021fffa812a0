package awards

import "time"

// Account is a customer's awards account. It owns its batches exclusively and
// is loaded, mutated and saved as a single unit.
type Account struct {
	CustomerID   string
	Active       bool
	TransitCount int
	CreatedAt    time.Time
	Batches      []*MilesBatch
	// Version increases by one on every committed save.
	Version int64
}

// NewAccount returns an inactive account with no miles.
func NewAccount(customerID string, createdAt time.Time) *Account {
	return &Account{
		CustomerID: customerID,
		CreatedAt:  createdAt,
	}
}

// Activate enables the account for registrations and removals.
func (a *Account) Activate() {
	a.Active = true
}

// Deactivate disables the account. Existing batches are kept.
func (a *Account) Deactivate() {
	a.Active = false
}

// BalanceAsOf sums the effective amount of every batch at t.
func (a *Account) BalanceAsOf(t time.Time) int {
	total := 0
	for _, b := range a.Batches {
		total += b.AmountAsOf(t)
	}
	return total
}

func (a *Account) append(b *MilesBatch) {
	b.CustomerID = a.CustomerID
	a.Batches = append(a.Batches, b)
}
