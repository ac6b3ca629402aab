// Package money represents booking amounts as integers in the smallest
// currency unit. The deployment supports exactly one configured currency;
// there is no multi-asset registry and no floating-point arithmetic ever
// touches an amount.
package money

import (
	"errors"
	"fmt"
)

// Amount is a monetary value in the smallest unit of a currency (e.g. cents
// for USD). Arithmetic that would make it negative or overflow an int64
// returns an error instead of wrapping or truncating.
type Amount struct {
	Currency string `json:"currency"`
	Atomic   int64  `json:"atomic"`
}

var (
	// ErrOverflow occurs when an operation would exceed int64 capacity.
	ErrOverflow = errors.New("money: arithmetic overflow")

	// ErrCurrencyMismatch occurs when combining amounts of different currencies.
	ErrCurrencyMismatch = errors.New("money: currency mismatch")

	// ErrNegativeAmount occurs when an operation would produce a negative amount.
	ErrNegativeAmount = errors.New("money: negative amount not allowed")
)

// New builds an Amount from atomic units.
func New(currency string, atomic int64) Amount {
	return Amount{Currency: currency, Atomic: atomic}
}

// Zero returns a zero amount for currency.
func Zero(currency string) Amount {
	return Amount{Currency: currency, Atomic: 0}
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.Atomic == 0 }

// Add returns a+b. Both operands must share a currency.
func (a Amount) Add(b Amount) (Amount, error) {
	if a.Currency != b.Currency {
		return Amount{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, a.Currency, b.Currency)
	}
	sum := a.Atomic + b.Atomic
	if (b.Atomic > 0 && sum < a.Atomic) || (b.Atomic < 0 && sum > a.Atomic) {
		return Amount{}, ErrOverflow
	}
	return Amount{Currency: a.Currency, Atomic: sum}, nil
}

// Sub returns a-b, failing if the result would be negative.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.Currency != b.Currency {
		return Amount{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, a.Currency, b.Currency)
	}
	if a.Atomic < b.Atomic {
		return Amount{}, ErrNegativeAmount
	}
	return Amount{Currency: a.Currency, Atomic: a.Atomic - b.Atomic}, nil
}

// Equal reports whether a and b share a currency and atomic value, used
// wherever two amounts must match exactly (quote hash verification,
// refund-amount checks) rather than merely be numerically close.
func (a Amount) Equal(b Amount) bool {
	return a.Currency == b.Currency && a.Atomic == b.Atomic
}

// String renders the amount for logging only; never used to derive a value.
func (a Amount) String() string {
	return fmt.Sprintf("%s %d", a.Currency, a.Atomic)
}
