package awards

import "errors"

var (
	// ErrAccountNotFound is returned when the customer has no awards account.
	ErrAccountNotFound = errors.New("awards account not found")

	// ErrAccountExists is returned when registering a customer that already has an account.
	ErrAccountExists = errors.New("awards account already exists")

	// ErrInactiveAccount is returned for operations against a deactivated account.
	ErrInactiveAccount = errors.New("awards account is not active")

	// ErrInvalidAmount is returned when a miles amount is not positive.
	ErrInvalidAmount = errors.New("miles amount must be > 0")
)
