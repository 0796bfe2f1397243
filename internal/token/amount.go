package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrDecimalsMismatch is the panic value when amounts of different tokens are combined.
	ErrDecimalsMismatch = errors.New("decimals mismatch")

	// ErrNegativeAmount is returned when a subtraction would go below zero.
	ErrNegativeAmount = errors.New("amount would be negative")
)

// Amount is a non-negative quantity in a token's smallest unit.
// Amounts are values: every operation returns a new Amount.
type Amount struct {
	value    *big.Int
	decimals uint8
}

// Zero returns a zero amount with the given decimals.
func Zero(decimals uint8) Amount {
	return Amount{value: new(big.Int), decimals: decimals}
}

// NewAmount builds an amount from a uint64 in smallest units.
func NewAmount(units uint64, decimals uint8) Amount {
	return Amount{value: new(big.Int).SetUint64(units), decimals: decimals}
}

// FromBig builds an amount from a big.Int. Negative values are rejected.
func FromBig(v *big.Int, decimals uint8) (Amount, error) {
	if v == nil {
		return Zero(decimals), nil
	}
	if v.Sign() < 0 {
		return Amount{}, ErrNegativeAmount
	}
	return Amount{value: new(big.Int).Set(v), decimals: decimals}, nil
}

// ParseAmount parses display text such as "0.01" into an amount.
func ParseAmount(text string, decimals uint8) (Amount, error) {
	v, err := FromDisplay(text, decimals)
	if err != nil {
		return Amount{}, err
	}
	return Amount{value: v, decimals: decimals}, nil
}

// Big returns a copy of the underlying integer.
func (a Amount) Big() *big.Int {
	if a.value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.value)
}

// Decimals returns the token decimals the amount is denominated in.
func (a Amount) Decimals() uint8 {
	return a.decimals
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a.value == nil || a.value.Sign() == 0
}

// Units returns the amount as uint64 and whether it fit.
func (a Amount) Units() (uint64, bool) {
	v := a.Big()
	if !v.IsUint64() {
		return 0, false
	}
	return v.Uint64(), true
}

func (a Amount) mustMatch(b Amount) {
	if a.decimals != b.decimals {
		panic(fmt.Errorf("%w: %d vs %d", ErrDecimalsMismatch, a.decimals, b.decimals))
	}
}

// SameToken reports whether a and b can be combined.
func (a Amount) SameToken(b Amount) bool {
	return a.decimals == b.decimals
}

// Add returns a+b. Panics if decimals differ.
func (a Amount) Add(b Amount) Amount {
	a.mustMatch(b)
	return Amount{value: new(big.Int).Add(a.Big(), b.Big()), decimals: a.decimals}
}

// Sub returns a-b, or ErrNegativeAmount if b > a. Panics if decimals differ.
func (a Amount) Sub(b Amount) (Amount, error) {
	a.mustMatch(b)
	v := new(big.Int).Sub(a.Big(), b.Big())
	if v.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: %s - %s", ErrNegativeAmount, a, b)
	}
	return Amount{value: v, decimals: a.decimals}, nil
}

// MulUint returns a*n.
func (a Amount) MulUint(n uint64) Amount {
	v := new(big.Int).Mul(a.Big(), new(big.Int).SetUint64(n))
	return Amount{value: v, decimals: a.decimals}
}

// Cmp compares a and b. Panics if decimals differ.
func (a Amount) Cmp(b Amount) int {
	a.mustMatch(b)
	return a.Big().Cmp(b.Big())
}

// Equal reports whether a and b have equal decimals and value.
func (a Amount) Equal(b Amount) bool {
	return a.decimals == b.decimals && a.Big().Cmp(b.Big()) == 0
}

// String renders the display form.
func (a Amount) String() string {
	return ToDisplay(a.value, a.decimals)
}

// UnitsString renders the smallest-unit integer.
func (a Amount) UnitsString() string {
	return a.Big().String()
}

// MarshalJSON encodes the smallest-unit integer as a JSON string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.UnitsString())
}

// UnmarshalJSON accepts a JSON string or number of smallest units.
// Decimals are not carried on the wire and must be set with WithDecimals.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var raw json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		var s string
		if err2 := json.Unmarshal(data, &s); err2 != nil {
			return fmt.Errorf("decode amount: %w", err)
		}
		raw = json.Number(s)
	}
	v, ok := new(big.Int).SetString(raw.String(), 10)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidFormat, raw.String())
	}
	if v.Sign() < 0 {
		return ErrNegativeAmount
	}
	a.value = v
	return nil
}

// WithDecimals returns the same units re-tagged with decimals.
// Used after decoding wire values whose decimals come from a sibling field.
func (a Amount) WithDecimals(decimals uint8) Amount {
	return Amount{value: a.Big(), decimals: decimals}
}
