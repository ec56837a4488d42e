package httpapi

import (
	"errors"
	"net/http"

	"github.com/R3E-Network/issuance_ledger/internal/app/lock"
	"github.com/R3E-Network/issuance_ledger/internal/app/rail"
	"github.com/R3E-Network/issuance_ledger/internal/app/services/issuance"
)

// statusFor maps service and rail failures onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, issuance.ErrNonexistent):
		return http.StatusNotFound
	case errors.Is(err, issuance.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, issuance.ErrInvalidAmount),
		errors.Is(err, issuance.ErrInvalidTime),
		errors.Is(err, issuance.ErrInvalidPayment),
		errors.Is(err, issuance.ErrInvalidReference),
		errors.Is(err, rail.ErrInvalidAmount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, rail.ErrInsufficientFunds),
		errors.Is(err, rail.ErrInsufficientAllowance),
		errors.Is(err, rail.ErrInsufficientCustody):
		return http.StatusPaymentRequired
	case errors.Is(err, lock.ErrNotAcquired), errors.Is(err, issuance.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
