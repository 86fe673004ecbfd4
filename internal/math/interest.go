// internal/math/interest.go
package math

// KinkedRate evaluates the two-slope utilization curve.
// util, base, slopes and kink are Scalar7; the result is an annual Scalar7 rate.
func KinkedRate(util, base, slope1, slope2, kink int64) (int64, error) {
	if kink <= 0 || kink >= Scalar7 {
		return 0, ErrDivideByZero
	}
	if util < 0 {
		util = 0
	}
	if util > Scalar7 {
		util = Scalar7
	}

	if util <= kink {
		v, err := MulDiv(slope1, util, kink, RoundDown)
		if err != nil {
			return 0, err
		}
		return Add(base, v)
	}

	v, err := MulDiv(slope2, util-kink, Scalar7-kink, RoundDown)
	if err != nil {
		return 0, err
	}
	r, err := Add(base, slope1)
	if err != nil {
		return 0, err
	}
	return Add(r, v)
}

// GrowIndex returns index * (1 + rate*elapsed/year).
func GrowIndex(index, rate, elapsed int64, mode RoundingMode) (int64, error) {
	delta, err := MulDivN(
		[]int64{index, rate, elapsed},
		[]int64{Scalar7, SecondsPerYear},
		mode,
	)
	if err != nil {
		return 0, err
	}
	return Add(index, delta)
}

// GrowSupplyIndex returns index * (1 + rate*elapsed/year * (1-reserveFactor) * util),
// rounded down.
func GrowSupplyIndex(index, rate, elapsed, reserveFactor, util int64) (int64, error) {
	delta, err := MulDivN(
		[]int64{index, rate, elapsed, Scalar7 - reserveFactor, util},
		[]int64{Scalar7, SecondsPerYear, Scalar7, Scalar7},
		RoundDown,
	)
	if err != nil {
		return 0, err
	}
	return Add(index, delta)
}

// AccruedInterest is the simple interest owed on principal over elapsed seconds.
func AccruedInterest(principal, rate, elapsed int64) (int64, error) {
	return MulDivN(
		[]int64{principal, rate, elapsed},
		[]int64{Scalar7, SecondsPerYear},
		RoundDown,
	)
}

// Portion returns amount*share/Scalar7, rounded down.
func Portion(amount, share int64) (int64, error) {
	return MulDiv(amount, share, Scalar7, RoundDown)
}
