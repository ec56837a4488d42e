// Package rail defines the payment rail the issuance engine charges and pays
// out through. A rail moves value between a payer account and the issuer's
// custody; every transfer either fully succeeds or fully fails.
package rail

import (
	"context"
	"errors"
	"math/big"
)

// Rail-level failures. They are surfaced to callers as-is and never wrapped
// into issuance error kinds.
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientCustody   = errors.New("insufficient custody balance")
	ErrInvalidAmount         = errors.New("invalid transfer amount")
)

// PaymentRail moves currency into and out of issuer custody.
type PaymentRail interface {
	// Pull moves amount from the payer into custody.
	Pull(ctx context.Context, currency, from string, amount *big.Int) error
	// Push moves amount from custody to the destination.
	Push(ctx context.Context, currency, to string, amount *big.Int) error
	// Custody reports the issuer-held balance of currency.
	Custody(ctx context.Context, currency string) (*big.Int, error)
}

// Refunder is implemented by rails that can reverse a pull. A refund returns
// the funds and restores the allowance the pull consumed, so the payer can
// retry without approving again.
type Refunder interface {
	Refund(ctx context.Context, currency, to string, amount *big.Int) error
}

type idempotencyKey struct{}

// WithIdempotencyKey tags transfers issued under ctx with key. Remote rails
// settle a repeated key once.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKey returns the key attached by WithIdempotencyKey, if any.
func IdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKey{}).(string)
	return key
}

func validAmount(amount *big.Int) bool {
	return amount != nil && amount.Sign() >= 0
}
