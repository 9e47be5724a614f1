// Package amount normalizes satoshi/atom quantities into math/big at the
// system boundary, per spec §9: "implementations must normalize
// everything through an arbitrary-precision integer at the boundary and
// reject values that cannot be represented exactly." No example repo in
// this pack reaches for a bignum library beyond the standard one — BTC
// sats comfortably fit an int64, so this concern is XEC-specific — which
// is why this package is built directly on math/big rather than adapted
// from a teacher file.
package amount

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// FromNumber normalizes a JSON-decoded number/string into a *big.Int,
// rejecting values that cannot be represented exactly (fractional
// sats/atoms, NaN, Inf, negative values).
func FromNumber(v interface{}) (*big.Int, error) {
	switch t := v.(type) {
	case nil:
		return nil, fmt.Errorf("amount: nil value")
	case *big.Int:
		if t.Sign() < 0 {
			return nil, fmt.Errorf("amount: negative value %s", t.String())
		}
		return new(big.Int).Set(t), nil
	case string:
		return FromString(t)
	case int64:
		return FromInt64(t)
	case int:
		return FromInt64(int64(t))
	case float64:
		return FromFloat64(t)
	default:
		return nil, fmt.Errorf("amount: unsupported type %T", v)
	}
}

// FromString parses a decimal integer string exactly.
func FromString(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("amount: %q is not an exact integer", s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("amount: negative value %s", s)
	}
	return n, nil
}

// FromInt64 wraps a non-negative int64 as a *big.Int.
func FromInt64(v int64) (*big.Int, error) {
	if v < 0 {
		return nil, fmt.Errorf("amount: negative value %d", v)
	}
	return big.NewInt(v), nil
}

// FromFloat64 accepts a float64 only if it represents a whole number
// exactly (no fractional sats), rejecting NaN/Inf.
func FromFloat64(v float64) (*big.Int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("amount: non-finite value %v", v)
	}
	if v < 0 {
		return nil, fmt.Errorf("amount: negative value %v", v)
	}
	if math.Trunc(v) != v {
		return nil, fmt.Errorf("amount: %v is not an exact integer", v)
	}
	return new(big.Int).SetInt64(int64(v)), nil
}

// Zero returns a fresh zero-valued *big.Int.
func Zero() *big.Int { return big.NewInt(0) }

// Sum adds a list of *big.Int values, treating nil entries as zero.
func Sum(values ...*big.Int) *big.Int {
	total := big.NewInt(0)
	for _, v := range values {
		if v == nil {
			continue
		}
		total.Add(total, v)
	}
	return total
}

// DisplayToAtoms converts a display-unit decimal string (e.g. "1.23")
// into atoms given the token's decimals: floor(x * 10^d).
func DisplayToAtoms(display string, decimals int) (*big.Int, error) {
	display = strings.TrimSpace(display)
	neg := strings.HasPrefix(display, "-")
	if neg {
		return nil, fmt.Errorf("amount: negative display amount %q", display)
	}

	intPart := display
	fracPart := ""
	if idx := strings.IndexByte(display, '.'); idx >= 0 {
		intPart = display[:idx]
		fracPart = display[idx+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > decimals {
		fracPart = fracPart[:decimals] // floor: truncate excess precision
	}
	for len(fracPart) < decimals {
		fracPart += "0"
	}

	combined := intPart + fracPart
	atoms, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("amount: %q is not a valid decimal amount", display)
	}
	return atoms, nil
}

// AtomsToDisplay converts atoms to a display-unit decimal string,
// preferring exact decimal-string formatting over floating point per
// spec §4.9 ("implementations must prefer decimal strings when d > 0").
func AtomsToDisplay(atoms *big.Int, decimals int) string {
	if atoms == nil {
		atoms = Zero()
	}
	s := atoms.String()
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if decimals == 0 {
		if neg {
			return "-" + s
		}
		return s
	}
	for len(s) <= decimals {
		s = "0" + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := s[len(s)-decimals:]
	out := intPart + "." + fracPart
	if neg {
		out = "-" + out
	}
	return out
}

// FormatSats renders sats as a plain decimal string, for messages.
func FormatSats(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// ParseSatPerByte parses a fee-rate string/float without losing
// precision beyond what float64 already implies; fee rates are never
// arbitrary precision (they derive from market estimates, not ledger
// balances).
func ParseSatPerByte(v string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(v), 64)
}
