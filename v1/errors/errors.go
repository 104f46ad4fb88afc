package errors

import "errors"

// Recoverable business failures. Callers are expected to branch on these
// with errors.Is and retry with a smaller quantity or another location.
var (
	ErrInsufficientStock = errors.New("stockyard: insufficient stock")
	ErrCapacityExceeded  = errors.New("stockyard: location capacity exceeded")
)

// Caller errors surfaced as-is.
var (
	ErrReservationNotFound = errors.New("stockyard: reservation not found")
	ErrTransferNotFound    = errors.New("stockyard: transfer not found")
	ErrInvalidArgument     = errors.New("stockyard: invalid argument")
)

// ErrAlreadyFinalized is the idempotent acknowledgment that a reservation
// already reached a terminal state. Retrying a commit or release reports it
// instead of touching the ledger twice.
var ErrAlreadyFinalized = errors.New("stockyard: reservation already finalized")

// Defensive failures. These indicate holds were mutated out of band, past
// the registry; they are bugs to log loudly, not business outcomes.
var (
	ErrNotReserved       = errors.New("stockyard: reserved counter below committed quantity")
	ErrOverRelease       = errors.New("stockyard: release exceeds reserved quantity")
	ErrInvalidAdjustment = errors.New("stockyard: adjustment violates stock invariants")
)
