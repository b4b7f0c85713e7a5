package fixedpoint

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// All ledger amounts and USD values are 18-decimal fixed point ("wad").
// Arithmetic that would wrap returns an error instead: a silently wrapped
// balance is a solvency bug, not a number.

const WadDecimals = 18

var (
	// Wad is 10^18, the base scale. Treat as read-only.
	Wad = uint256.NewInt(1_000_000_000_000_000_000)

	// MaxValue is the saturated sentinel used for "infinite" ratios
	// (e.g. the health factor of a debt-free account).
	MaxValue = maxUint256()
)

var (
	ErrOverflow     = errors.New("fixedpoint: overflow")
	ErrUnderflow    = errors.New("fixedpoint: underflow")
	ErrDivideByZero = errors.New("fixedpoint: divide by zero")
)

func maxUint256() *uint256.Int {
	max := new(uint256.Int)
	return max.Not(max) // ^0 = all ones
}

// Add returns a+b, failing on overflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%w: %s + %s", ErrOverflow, a.Dec(), b.Dec())
	}
	return sum, nil
}

// Sub returns a-b, failing when b > a. Amounts are unsigned by design:
// an underflow here means a balance would have gone negative.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, fmt.Errorf("%w: %s - %s", ErrUnderflow, a.Dec(), b.Dec())
	}
	return diff, nil
}

// Mul returns a*b, failing on overflow.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s", ErrOverflow, a.Dec(), b.Dec())
	}
	return product, nil
}

// MulDiv returns a*b/den using a 512-bit intermediate, so a*b may exceed
// 256 bits as long as the quotient fits. Truncating division.
func MulDiv(a, b, den *uint256.Int) (*uint256.Int, error) {
	if den.IsZero() {
		return nil, ErrDivideByZero
	}
	quotient, overflow := new(uint256.Int).MulDivOverflow(a, b, den)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s / %s", ErrOverflow, a.Dec(), b.Dec(), den.Dec())
	}
	return quotient, nil
}

// Pow10 returns 10^n. n is bounded by what uint256 can hold (10^77).
func Pow10(n uint8) (*uint256.Int, error) {
	result := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < n; i++ {
		var overflow bool
		result, overflow = new(uint256.Int).MulOverflow(result, ten)
		if overflow {
			return nil, fmt.Errorf("%w: 10^%d", ErrOverflow, n)
		}
	}
	return result, nil
}

// FromUint64 lifts a raw integer into a uint256 amount (no rescaling).
func FromUint64(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// MustFromDecimal parses a base-10 amount string, panicking on malformed
// input. Intended for constants and tests.
func MustFromDecimal(s string) *uint256.Int {
	return uint256.MustFromDecimal(s)
}
