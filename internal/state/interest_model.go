package state

import (
	fpmath "LendingPool/internal/math"
)

// InterestModel is a two-slope utilization curve. All fields are Scalar7.
type InterestModel struct {
	BaseRate int64
	Slope1   int64
	Slope2   int64
	Kink     int64
}

// Utilization returns borrowed/supplied as Scalar7, capped at 1.0.
// Zero supply means zero utilization.
func (m InterestModel) Utilization(supplied, borrowed int64) (int64, error) {
	if supplied <= 0 || borrowed <= 0 {
		return 0, nil
	}
	u, err := fpmath.MulDiv(borrowed, fpmath.Scalar7, supplied, fpmath.RoundDown)
	if err != nil {
		return 0, err
	}
	return fpmath.Min(u, fpmath.Scalar7), nil
}

// BorrowRate returns the annual borrow rate at utilization u.
func (m InterestModel) BorrowRate(u int64) (int64, error) {
	return fpmath.KinkedRate(u, m.BaseRate, m.Slope1, m.Slope2, m.Kink)
}

// SupplyRate returns the annual rate earned by suppliers at utilization u.
func (m InterestModel) SupplyRate(u, reserveFactor int64) (int64, error) {
	br, err := m.BorrowRate(u)
	if err != nil {
		return 0, err
	}
	return fpmath.MulDivN(
		[]int64{br, u, fpmath.Scalar7 - reserveFactor},
		[]int64{fpmath.Scalar7, fpmath.Scalar7},
		fpmath.RoundDown,
	)
}
