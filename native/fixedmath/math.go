package fixedmath

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Decimals is the number of fractional digits carried by every fixed-point
// quantity crossing a module boundary.
const Decimals = 18

var (
	// ErrDivisionByZero is returned when the divisor of Div is zero.
	ErrDivisionByZero = errors.New("fixedmath: division by zero")
	// ErrOverflow is returned when a result escapes the 256-bit signed domain.
	ErrOverflow = errors.New("fixedmath: overflow")
	// ErrNegativeValue is returned by the unsigned variants on negative input.
	ErrNegativeValue = errors.New("fixedmath: negative value")
)

var (
	// Scale is the fixed-point unit, 10^18.
	Scale = big.NewInt(1_000_000_000_000_000_000)

	maxInt256 = mustBigInt("57896044618658097711785492504343953926634992332820282019728792003956564819967")
	minInt256 = mustBigInt("-57896044618658097711785492504343953926634992332820282019728792003956564819968")
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func checkRange(v *big.Int) (*big.Int, error) {
	if v.Cmp(maxInt256) > 0 || v.Cmp(minInt256) < 0 {
		return nil, ErrOverflow
	}
	return v, nil
}

// Mul returns a*b/Scale, truncating toward zero.
func Mul(a, b *big.Int) (*big.Int, error) {
	product := new(big.Int).Mul(a, b)
	return checkRange(product.Quo(product, Scale))
}

// Div returns a*Scale/b, truncating toward zero.
func Div(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	scaled := new(big.Int).Mul(a, Scale)
	return checkRange(scaled.Quo(scaled, b))
}

// ToFixed converts an integer quantity to its fixed-point representation.
func ToFixed(v *big.Int) (*big.Int, error) {
	return checkRange(new(big.Int).Mul(v, Scale))
}

// ToInt truncates a fixed-point quantity to its integer part.
func ToInt(v *big.Int) *big.Int {
	return new(big.Int).Quo(v, Scale)
}

// MulInt multiplies a fixed-point quantity by a plain (unscaled) integer.
// Used for time-weighted accrual where the multiplier is a second count.
func MulInt(a, n *big.Int) (*big.Int, error) {
	return checkRange(new(big.Int).Mul(a, n))
}

// Add returns a+b with the usual range check.
func Add(a, b *big.Int) (*big.Int, error) {
	return checkRange(new(big.Int).Add(a, b))
}

// Sub returns a-b with the usual range check.
func Sub(a, b *big.Int) (*big.Int, error) {
	return checkRange(new(big.Int).Sub(a, b))
}

// MulDiv returns a*b/denom without intermediate scaling, truncating toward
// zero. Used where the fixed-point factors cancel, as in the constant-product
// swap formula.
func MulDiv(a, b, denom *big.Int) (*big.Int, error) {
	if denom.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	product := new(big.Int).Mul(a, b)
	return checkRange(product.Quo(product, denom))
}

// ParseDecimal converts a decimal string like "25", "1.0" or "-0.05" to its
// fixed-point representation. More than Decimals fractional digits is an
// error rather than silent truncation.
func ParseDecimal(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("fixedmath: empty decimal")
	}
	negative := strings.HasPrefix(trimmed, "-")
	if negative {
		trimmed = trimmed[1:]
	}
	whole, frac, _ := strings.Cut(trimmed, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		return nil, fmt.Errorf("fixedmath: %q has more than %d decimal places", raw, Decimals)
	}
	digits := whole + frac + strings.Repeat("0", Decimals-len(frac))
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("fixedmath: %q is not a decimal number", raw)
	}
	if negative {
		v.Neg(v)
	}
	return checkRange(v)
}

// Min returns the smaller of a and b under the signed total order.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max returns the larger of a and b under the signed total order.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// UMin is the unsigned variant of Min: it refuses negative inputs.
func UMin(a, b *big.Int) (*big.Int, error) {
	if a.Sign() < 0 || b.Sign() < 0 {
		return nil, ErrNegativeValue
	}
	return Min(a, b), nil
}

// UMax is the unsigned variant of Max: it refuses negative inputs.
func UMax(a, b *big.Int) (*big.Int, error) {
	if a.Sign() < 0 || b.Sign() < 0 {
		return nil, ErrNegativeValue
	}
	return Max(a, b), nil
}
