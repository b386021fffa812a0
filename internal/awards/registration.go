package awards

import (
	"time"

	"github.com/google/uuid"
)

// Settings supplies the loyalty program parameters used when granting miles.
type Settings interface {
	DefaultMilesBonus() int
	MilesExpiration() time.Duration
}

// Registrar creates new batches on an account.
type Registrar struct {
	settings Settings
	newID    func() string
}

// NewRegistrar returns a Registrar that reads its parameters from settings on
// every call.
func NewRegistrar(settings Settings) *Registrar {
	return &Registrar{
		settings: settings,
		newID:    func() string { return uuid.New().String() },
	}
}

// RegisterMiles grants the default bonus for a completed transit. The batch
// expires after the configured window.
func (r *Registrar) RegisterMiles(account *Account, transitID string, asOf time.Time) (*MilesBatch, error) {
	if !account.Active {
		return nil, ErrInactiveAccount
	}
	amount := r.settings.DefaultMilesBonus()
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	expiresOn := asOf.Add(r.settings.MilesExpiration())
	batch := r.newBatch(amount, asOf, &expiresOn)
	batch.TransitID = transitID

	account.append(batch)
	account.TransitCount++
	return batch, nil
}

// RegisterNonExpiringMiles grants amount miles that never expire.
func (r *Registrar) RegisterNonExpiringMiles(account *Account, amount int, asOf time.Time) (*MilesBatch, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !account.Active {
		return nil, ErrInactiveAccount
	}

	batch := r.newBatch(amount, asOf, nil)
	account.append(batch)
	return batch, nil
}

func (r *Registrar) newBatch(amount int, grantedOn time.Time, expiresOn *time.Time) *MilesBatch {
	return &MilesBatch{
		ID:              r.newID(),
		GrantedOn:       grantedOn,
		ExpiresOn:       expiresOn,
		OriginalAmount:  amount,
		RemainingAmount: amount,
	}
}
