// internal/state/errors.go
package state

import (
	"errors"

	fpmath "LendingPool/internal/math"
)

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrNotEligible            = errors.New("not eligible for liquidation")
	ErrExceedsCloseFactor     = errors.New("repay exceeds close factor")
	ErrStalePrice             = errors.New("stale price")
	ErrArithmeticOverflow     = fpmath.ErrOverflow

	ErrInsufficientLiquidity = errors.New("insufficient reserve liquidity")
	ErrReserveNotActive      = errors.New("reserve not active")
	ErrAlreadyInitialized    = errors.New("already initialized")
	ErrNotInitialized        = errors.New("pool not initialized")
)

// Kind groups errors by how a caller should react to them.
type Kind int

const (
	KindNone Kind = iota
	// KindRejected: the request is invalid or unsafe. Retrying it unchanged fails again.
	KindRejected
	// KindRetryable: the request may succeed once external inputs (prices) refresh.
	KindRetryable
	// KindFatal: arithmetic overflow or an unexpected failure. The operation was aborted.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindRejected:
		return "rejected"
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrStalePrice):
		return KindRetryable
	case errors.Is(err, ErrArithmeticOverflow),
		errors.Is(err, fpmath.ErrDivideByZero),
		errors.Is(err, fpmath.ErrNegativeOperand):
		return KindFatal
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInsufficientCollateral),
		errors.Is(err, ErrNotEligible),
		errors.Is(err, ErrExceedsCloseFactor),
		errors.Is(err, ErrInsufficientLiquidity),
		errors.Is(err, ErrReserveNotActive),
		errors.Is(err, ErrAlreadyInitialized),
		errors.Is(err, ErrNotInitialized):
		return KindRejected
	default:
		return KindFatal
	}
}

// Reason returns a short metric label for err.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrExceedsCloseFactor):
		return "exceeds_close_factor"
	case errors.Is(err, ErrStalePrice):
		return "stale_price"
	case errors.Is(err, ErrArithmeticOverflow):
		return "overflow"
	case errors.Is(err, ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, ErrReserveNotActive):
		return "reserve_not_active"
	case errors.Is(err, ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	default:
		return "internal"
	}
}
