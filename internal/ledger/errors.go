package ledger

import "errors"

// Typed failures returned by engine operations. Wrapped errors carry
// operation detail; callers match with errors.Is.
var (
	// ErrNotFound is returned for operations on an unknown investor.
	ErrNotFound = errors.New("ledger: investor not found")

	// ErrPriceNotConfigured is returned when the unit price setting has
	// never been initialized. The engine never substitutes a default;
	// collaborators may document one of their own.
	ErrPriceNotConfigured = errors.New("ledger: unit price not configured")

	// ErrInvalidArgument is returned for non-positive units, prices, or
	// amounts. Detected before any write begins.
	ErrInvalidArgument = errors.New("ledger: invalid argument")

	// ErrInsufficientUnits is returned when a liquidation exceeds the
	// units held. Checked against the locked row, so two concurrent
	// liquidations can never both pass it against uncommitted state.
	ErrInsufficientUnits = errors.New("ledger: insufficient units")

	// ErrConcurrencyConflict is returned after the bounded lock retries
	// are exhausted. Safe for the caller to retry.
	ErrConcurrencyConflict = errors.New("ledger: concurrent mutation conflict")

	// ErrStoreUnavailable wraps durable-storage failures. Not retried
	// automatically: without an idempotency key a blind retry risks
	// double-applying.
	ErrStoreUnavailable = errors.New("ledger: store unavailable")
)
