package issuance

import (
	"errors"

	"github.com/R3E-Network/issuance_ledger/internal/app/auth"
)

// Domain failures. Rail failures are returned unwrapped and never mapped onto
// these.
var (
	ErrNonexistent      = errors.New("nonexistent item")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidTime      = errors.New("invalid time")
	ErrInvalidPayment   = errors.New("invalid payment")
	ErrInvalidReference = errors.New("invalid reference")
	ErrUnauthorized     = auth.ErrUnauthorized
)

// ErrStopped is returned for operations arriving after Stop.
var ErrStopped = errors.New("issuance engine stopped")

// outcome maps an operation error onto a metrics label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNonexistent):
		return "nonexistent"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidTime):
		return "invalid_time"
	case errors.Is(err, ErrInvalidPayment):
		return "invalid_payment"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}
