package awards

import "time"

// Reduction records how many miles were taken from one batch.
type Reduction struct {
	BatchID string
	Amount  int
}

// Removal is the outcome of a RemoveMiles call.
type Removal struct {
	Requested  int
	Removed    int
	Strategy   Strategy
	Reductions []Reduction
}

// Shortfall returns how many requested miles could not be removed.
func (r Removal) Shortfall() int {
	return r.Requested - r.Removed
}

// RemoveMiles takes up to miles from the account's batches, in the order given
// by the strategy resolved for profile at asOf. Asking for more than the
// account holds is not an error: everything eligible is removed and the actual
// total is reported.
func RemoveMiles(account *Account, profile CustomerProfile, miles int, asOf time.Time) (Removal, error) {
	if miles <= 0 {
		return Removal{}, ErrInvalidAmount
	}
	if !account.Active {
		return Removal{}, ErrInactiveAccount
	}

	strategy := ResolveStrategy(profile, asOf)
	removal := Removal{Requested: miles, Strategy: strategy}

	for _, b := range strategy.Order(account.Batches, asOf) {
		if removal.Removed == miles {
			break
		}
		reduced := b.Reduce(miles-removal.Removed, asOf)
		if reduced == 0 {
			continue
		}
		removal.Removed += reduced
		removal.Reductions = append(removal.Reductions, Reduction{BatchID: b.ID, Amount: reduced})
	}

	return removal, nil
}
