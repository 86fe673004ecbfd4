// internal/math/fixedpoint.go
package math

import (
	"errors"
	stdmath "math"

	"github.com/holiman/uint256"
)

const (
	// Scalar7 is the fixed-point unit for factors, rates and utilization (1e7 = 1.0).
	Scalar7 int64 = 10_000_000

	// Scalar12 is the fixed-point unit for interest and reward indices (1e12 = 1.0).
	Scalar12 int64 = 1_000_000_000_000

	SecondsPerYear int64 = 31_536_000

	// MaxDecimals bounds token and price decimals so 10^d fits int64.
	MaxDecimals uint32 = 18
)

var (
	ErrOverflow        = errors.New("arithmetic overflow")
	ErrDivideByZero    = errors.New("division by zero")
	ErrNegativeOperand = errors.New("negative operand")
)

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown
	RoundUp
)

func (m RoundingMode) String() string {
	switch m {
	case RoundHalfEven:
		return "half_even"
	case RoundDown:
		return "down"
	case RoundUp:
		return "up"
	default:
		return "unknown"
	}
}

var maxInt64 = uint256.NewInt(uint64(stdmath.MaxInt64))

// product multiplies non-negative factors in 256 bits.
func product(factors []int64) (*uint256.Int, error) {
	acc := uint256.NewInt(1)
	for _, f := range factors {
		if f < 0 {
			return nil, ErrNegativeOperand
		}
		var overflow bool
		acc, overflow = new(uint256.Int).MulOverflow(acc, uint256.NewInt(uint64(f)))
		if overflow {
			return nil, ErrOverflow
		}
	}
	return acc, nil
}

func toInt64(v *uint256.Int) (int64, error) {
	if v.Gt(maxInt64) {
		return 0, ErrOverflow
	}
	return int64(v.Uint64()), nil
}

// MulDivN computes (n1*n2*...)/(d1*d2*...) with a 256-bit intermediate.
// The result must fit int64.
func MulDivN(numerators, denominators []int64, mode RoundingMode) (int64, error) {
	num, err := product(numerators)
	if err != nil {
		return 0, err
	}
	den, err := product(denominators)
	if err != nil {
		return 0, err
	}
	if den.IsZero() {
		return 0, ErrDivideByZero
	}

	quo, rem := new(uint256.Int).DivMod(num, den, new(uint256.Int))

	if !rem.IsZero() {
		switch mode {
		case RoundUp:
			quo.AddUint64(quo, 1)
		case RoundHalfEven:
			// Compare 2*rem against den without overflowing.
			twice, overflow := new(uint256.Int).AddOverflow(rem, rem)
			cmp := 1
			if !overflow {
				cmp = twice.Cmp(den)
			}
			if cmp > 0 || (cmp == 0 && quo.Uint64()%2 == 1) {
				quo.AddUint64(quo, 1)
			}
		}
	}

	return toInt64(quo)
}

// MulDiv computes a*b/c.
func MulDiv(a, b, c int64, mode RoundingMode) (int64, error) {
	return MulDivN([]int64{a, b}, []int64{c}, mode)
}

// Mul7 multiplies two Scalar7 values.
func Mul7(a, b int64, mode RoundingMode) (int64, error) {
	return MulDiv(a, b, Scalar7, mode)
}

// Div7 divides a by b, returning a Scalar7 result.
func Div7(a, b int64, mode RoundingMode) (int64, error) {
	return MulDiv(a, Scalar7, b, mode)
}

// Add returns a+b or ErrOverflow.
func Add(a, b int64) (int64, error) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, ErrOverflow
	}
	return s, nil
}

// Sub returns a-b or ErrOverflow.
func Sub(a, b int64) (int64, error) {
	d := a - b
	if (b > 0 && d > a) || (b < 0 && d < a) {
		return 0, ErrOverflow
	}
	return d, nil
}

// Pow10 returns 10^d for d <= MaxDecimals.
func Pow10(d uint32) (int64, error) {
	if d > MaxDecimals {
		return 0, ErrOverflow
	}
	v := int64(1)
	for i := uint32(0); i < d; i++ {
		v *= 10
	}
	return v, nil
}

func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
