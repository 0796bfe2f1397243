// Package token converts between a token's smallest integer unit and its
// human display form, and provides a decimals-tagged amount type.
package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// MaxDecimals is the largest decimals value accepted by the codec.
const MaxDecimals = 18

var (
	// ErrInvalidFormat is returned when display text is not a non-negative decimal number.
	ErrInvalidFormat = errors.New("invalid amount format")

	// ErrDecimalsOutOfRange is returned when decimals exceeds MaxDecimals.
	ErrDecimalsOutOfRange = errors.New("decimals out of range")
)

// pow10 returns 10^d.
func pow10(d uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d)), nil)
}

// ToDisplay renders an amount in smallest units as a decimal string.
// Trailing fractional zeros are stripped; a whole amount has no fractional part.
// A nil amount renders as "0"; a negative one as "-" and its absolute value.
func ToDisplay(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	if amount.Sign() < 0 {
		return "-" + ToDisplay(new(big.Int).Neg(amount), decimals)
	}
	if decimals == 0 {
		return amount.String()
	}

	q, r := new(big.Int).QuoRem(amount, pow10(decimals), new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}

	frac := r.String()
	if pad := int(decimals) - len(frac); pad > 0 {
		frac = strings.Repeat("0", pad) + frac
	}
	frac = strings.TrimRight(frac, "0")
	return q.String() + "." + frac
}

// FromDisplay parses a decimal string into smallest units.
// The fractional part is right-padded or truncated to exactly decimals digits.
func FromDisplay(text string, decimals uint8) (*big.Int, error) {
	if decimals > MaxDecimals {
		return nil, fmt.Errorf("%w: %d", ErrDecimalsOutOfRange, decimals)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidFormat)
	}

	parts := strings.Split(text, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, text)
	}

	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, text)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, text)
	}

	if len(frac) > int(decimals) {
		frac = frac[:decimals]
	} else {
		frac += strings.Repeat("0", int(decimals)-len(frac))
	}

	digits := strings.TrimLeft(whole+frac, "0")
	if digits == "" {
		return new(big.Int), nil
	}

	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, text)
	}
	return v, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
