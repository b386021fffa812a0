package models

import "time"

// AccountResponse describes a customer's awards account.
type AccountResponse struct {
	CustomerID   string    `json:"customer_id"` // uuid
	Active       bool      `json:"active"`
	TransitCount int       `json:"transit_count"`
	CreatedAt    time.Time `json:"created_at"` // RFC3339 timestamp
}

// CreateAccountRequest is the optional body when registering a customer.
type CreateAccountRequest struct {
	Active bool `json:"active"` // activate right away
}

// ProfileRequest is the body of a customer profile upsert.
type ProfileRequest struct {
	Tier         string `json:"tier"` // "standard" or "vip"
	TransitCount int    `json:"transit_count"`
	ClaimCount   int    `json:"claim_count"` // claims on completed transits
}

// ProfileResponse echoes a stored customer profile.
type ProfileResponse struct {
	CustomerID   string `json:"customer_id"`
	Tier         string `json:"tier"`
	TransitCount int    `json:"transit_count"`
	ClaimCount   int    `json:"claim_count"`
}

// RegisterMilesRequest grants miles. Either TransitID is set, granting the
// default bonus, or NonExpiring is set together with Amount.
type RegisterMilesRequest struct {
	TransitID   string `json:"transit_id,omitempty"`
	Amount      int    `json:"amount,omitempty"`
	NonExpiring bool   `json:"non_expiring,omitempty"`
}

// MilesBatch is one granted batch as seen by auditing and reporting callers.
type MilesBatch struct {
	ID              string     `json:"id"`
	TransitID       string     `json:"transit_id,omitempty"`
	GrantedOn       time.Time  `json:"granted_on"`
	ExpiresOn       *time.Time `json:"expires_on"` // null for non-expiring miles
	OriginalAmount  int        `json:"original_amount"`
	RemainingAmount int        `json:"remaining_amount"`
	Amount          int        `json:"amount"` // effective amount at as_of
	Expired         bool       `json:"expired"`
}

// MilesListResponse is the full ledger of a customer.
type MilesListResponse struct {
	CustomerID string       `json:"customer_id"`
	AsOf       time.Time    `json:"as_of"`
	Balance    int          `json:"balance"`
	Miles      []MilesBatch `json:"miles"`
}

// RemoveMilesRequest asks for miles to be removed.
type RemoveMilesRequest struct {
	Miles int `json:"miles"`
}

// Reduction is the amount taken from one batch by a removal.
type Reduction struct {
	BatchID string `json:"batch_id"`
	Amount  int    `json:"amount"`
}

// RemoveMilesResponse reports what a removal actually did.
type RemoveMilesResponse struct {
	CustomerID string      `json:"customer_id"`
	Requested  int         `json:"requested"`
	Removed    int         `json:"removed"`
	Strategy   string      `json:"strategy"`
	Reductions []Reduction `json:"reductions"`
}

// BalanceResponse is a customer's effective balance at a point in time.
type BalanceResponse struct {
	CustomerID string    `json:"customer_id"`
	AsOf       time.Time `json:"as_of"`
	Balance    int       `json:"balance"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
