// internal/state/reserve.go
package state

import (
	"fmt"
	"strings"

	fpmath "LendingPool/internal/math"
)

// ReserveStatus gates which actions a reserve accepts.
type ReserveStatus int32

const (
	ReserveActive ReserveStatus = iota
	ReserveFrozen
	ReservePaused
)

func (s ReserveStatus) String() string {
	switch s {
	case ReserveActive:
		return "Active"
	case ReserveFrozen:
		return "Frozen"
	case ReservePaused:
		return "Paused"
	default:
		return "Unknown"
	}
}

func ParseReserveStatus(s string) (ReserveStatus, error) {
	switch strings.ToLower(s) {
	case "active":
		return ReserveActive, nil
	case "frozen":
		return ReserveFrozen, nil
	case "paused":
		return ReservePaused, nil
	default:
		return 0, fmt.Errorf("%w: unknown reserve status %q", ErrInvalidInput, s)
	}
}

// Action is a user-facing pool operation, used for status checks.
type Action int32

const (
	ActionSupply Action = iota
	ActionWithdraw
	ActionBorrow
	ActionRepay
	ActionLiquidate
)

func (a Action) String() string {
	switch a {
	case ActionSupply:
		return "supply"
	case ActionWithdraw:
		return "withdraw"
	case ActionBorrow:
		return "borrow"
	case ActionRepay:
		return "repay"
	case ActionLiquidate:
		return "liquidate"
	default:
		return "unknown"
	}
}

// Allows reports whether the status permits the action.
// Frozen blocks new exposure; Paused permits only repayment.
func (s ReserveStatus) Allows(a Action) bool {
	switch s {
	case ReserveActive:
		return true
	case ReserveFrozen:
		return a == ActionWithdraw || a == ActionRepay || a == ActionLiquidate
	case ReservePaused:
		return a == ActionRepay
	default:
		return false
	}
}

// Reserve holds the pooled state of one asset. Indices are Scalar12.
type Reserve struct {
	Asset  string        `json:"asset"`
	Index  uint32        `json:"index"`
	Config ReserveConfig `json:"config"`
	Status ReserveStatus `json:"status"`

	SupplyIndex    int64 `json:"supply_index"`
	LiabilityIndex int64 `json:"liability_index"`
	LastAccrual    int64 `json:"last_accrual"` // unix seconds

	TotalSupplyShares    int64 `json:"total_supply_shares"`
	TotalLiabilityShares int64 `json:"total_liability_shares"`

	Cash           int64 `json:"cash"`
	BackstopCredit int64 `json:"backstop_credit"`
	BadDebt        int64 `json:"bad_debt"`

	SupplyRewardIndex    int64 `json:"supply_reward_index"`
	LiabilityRewardIndex int64 `json:"liability_reward_index"`
}

// AccrualResult describes one accrual step.
type AccrualResult struct {
	Asset           string `json:"asset"`
	Elapsed         int64  `json:"elapsed"`
	Utilization     int64  `json:"utilization"`
	BorrowRate      int64  `json:"borrow_rate"`
	InterestAccrued int64  `json:"interest_accrued"`
	ProtocolRevenue int64  `json:"protocol_revenue"`
}

func NewReserve(index uint32, cfg ReserveConfig, now int64) *Reserve {
	return &Reserve{
		Asset:          cfg.Asset,
		Index:          index,
		Config:         cfg,
		Status:         ReserveActive,
		SupplyIndex:    fpmath.Scalar12,
		LiabilityIndex: fpmath.Scalar12,
		LastAccrual:    now,
	}
}

func (r *Reserve) Clone() *Reserve {
	c := *r
	return &c
}

// SuppliedTokens is the token value of all supply shares, rounded down.
func (r *Reserve) SuppliedTokens() (int64, error) {
	return r.SupplySharesToTokens(r.TotalSupplyShares, fpmath.RoundDown)
}

// BorrowedTokens is the token value of all liability shares, rounded up.
func (r *Reserve) BorrowedTokens() (int64, error) {
	return r.LiabilitySharesToTokens(r.TotalLiabilityShares, fpmath.RoundUp)
}

func (r *Reserve) Utilization() (int64, error) {
	supplied, err := r.SuppliedTokens()
	if err != nil {
		return 0, err
	}
	borrowed, err := r.BorrowedTokens()
	if err != nil {
		return 0, err
	}
	return r.Config.InterestModel().Utilization(supplied, borrowed)
}

// Rates returns the current annual borrow and supply rates as Scalar7.
func (r *Reserve) Rates() (borrow, supply int64, err error) {
	util, err := r.Utilization()
	if err != nil {
		return 0, 0, err
	}
	m := r.Config.InterestModel()
	if borrow, err = m.BorrowRate(util); err != nil {
		return 0, 0, err
	}
	supply, err = m.SupplyRate(util, r.Config.ReserveFactor)
	return borrow, supply, err
}

// Accrue brings both indices current to now. A non-positive elapsed time is a no-op.
// The reserve-factor share of interest is added to BackstopCredit; forwarding it
// is left to the caller.
func (r *Reserve) Accrue(now int64) (AccrualResult, error) {
	res := AccrualResult{Asset: r.Asset}
	elapsed := now - r.LastAccrual
	if elapsed <= 0 {
		return res, nil
	}

	borrowed, err := r.BorrowedTokens()
	if err != nil {
		return res, err
	}
	util, err := r.Utilization()
	if err != nil {
		return res, err
	}
	rate, err := r.Config.InterestModel().BorrowRate(util)
	if err != nil {
		return res, err
	}

	liabIdx, err := fpmath.GrowIndex(r.LiabilityIndex, rate, elapsed, fpmath.RoundUp)
	if err != nil {
		return res, err
	}
	supplyIdx, err := fpmath.GrowSupplyIndex(r.SupplyIndex, rate, elapsed, r.Config.ReserveFactor, util)
	if err != nil {
		return res, err
	}
	interest, err := fpmath.AccruedInterest(borrowed, rate, elapsed)
	if err != nil {
		return res, err
	}
	revenue, err := fpmath.Portion(interest, r.Config.ReserveFactor)
	if err != nil {
		return res, err
	}
	credit, err := fpmath.Add(r.BackstopCredit, revenue)
	if err != nil {
		return res, err
	}

	r.LiabilityIndex = liabIdx
	r.SupplyIndex = supplyIdx
	r.BackstopCredit = credit
	r.LastAccrual = now

	res.Elapsed = elapsed
	res.Utilization = util
	res.BorrowRate = rate
	res.InterestAccrued = interest
	res.ProtocolRevenue = revenue
	return res, nil
}

// Share conversions. Callers choose the rounding direction that favors the pool.

func (r *Reserve) SupplyTokensToShares(tokens int64, mode fpmath.RoundingMode) (int64, error) {
	return fpmath.MulDiv(tokens, fpmath.Scalar12, r.SupplyIndex, mode)
}

func (r *Reserve) SupplySharesToTokens(shares int64, mode fpmath.RoundingMode) (int64, error) {
	return fpmath.MulDiv(shares, r.SupplyIndex, fpmath.Scalar12, mode)
}

func (r *Reserve) LiabilityTokensToShares(tokens int64, mode fpmath.RoundingMode) (int64, error) {
	return fpmath.MulDiv(tokens, fpmath.Scalar12, r.LiabilityIndex, mode)
}

func (r *Reserve) LiabilitySharesToTokens(shares int64, mode fpmath.RoundingMode) (int64, error) {
	return fpmath.MulDiv(shares, r.LiabilityIndex, fpmath.Scalar12, mode)
}

// CheckInvariants returns an error describing the first broken reserve invariant.
func (r *Reserve) CheckInvariants() error {
	switch {
	case r.SupplyIndex < fpmath.Scalar12:
		return fmt.Errorf("reserve %s: supply index %d below 1.0", r.Asset, r.SupplyIndex)
	case r.LiabilityIndex < r.SupplyIndex:
		return fmt.Errorf("reserve %s: liability index %d below supply index %d",
			r.Asset, r.LiabilityIndex, r.SupplyIndex)
	case r.TotalSupplyShares < 0 || r.TotalLiabilityShares < 0:
		return fmt.Errorf("reserve %s: negative share totals", r.Asset)
	case r.Cash < 0:
		return fmt.Errorf("reserve %s: negative cash %d", r.Asset, r.Cash)
	case r.BackstopCredit < 0 || r.BadDebt < 0:
		return fmt.Errorf("reserve %s: negative credit or bad debt", r.Asset)
	}
	return nil
}

// CanonicalBytes returns deterministic serialization for hashing
func (r *Reserve) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)

	buf = append(buf, byte(len(r.Asset)))
	buf = append(buf, []byte(r.Asset)...)
	buf = append(buf, byte(r.Status))

	for _, v := range []int64{
		r.SupplyIndex,
		r.LiabilityIndex,
		r.LastAccrual,
		r.TotalSupplyShares,
		r.TotalLiabilityShares,
		r.Cash,
		r.BackstopCredit,
		r.BadDebt,
		r.SupplyRewardIndex,
		r.LiabilityRewardIndex,
	} {
		buf = appendInt64LE(buf, v)
	}

	return buf
}
