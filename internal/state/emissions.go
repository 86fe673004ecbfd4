package state

import (
	"fmt"

	fpmath "LendingPool/internal/math"
)

type emissionKey struct {
	Asset string
	Side  RewardSide
}

// Emissions splits emitter distributions across reserve sides using an
// additive reward index per side (Scalar12 reward tokens per share).
type Emissions struct {
	shares        []EmissionShare
	undistributed int64
	distributed   int64
}

// EmissionsState is the snapshot form of Emissions.
type EmissionsState struct {
	Shares        []EmissionShare `json:"shares"`
	Undistributed int64           `json:"undistributed"`
	Distributed   int64           `json:"distributed"`
}

// Allocation is one side's portion of a distribution.
type Allocation struct {
	Asset      string     `json:"asset"`
	Side       RewardSide `json:"side"`
	Portion    int64      `json:"portion"`
	IndexDelta int64      `json:"index_delta"`
}

type DistributionResult struct {
	Amount        int64        `json:"amount"`
	Allocations   []Allocation `json:"allocations"`
	Undistributed int64        `json:"undistributed"`
}

func NewEmissions(shares []EmissionShare) *Emissions {
	e := &Emissions{}
	e.shares = append(e.shares, shares...)
	return e
}

// SetEmissions replaces the share config. reserves lists the known assets.
func (e *Emissions) SetEmissions(shares []EmissionShare, reserves map[string]bool) error {
	if err := ValidateEmissionShares(shares, reserves); err != nil {
		return err
	}
	e.shares = append([]EmissionShare(nil), shares...)
	return nil
}

func (e *Emissions) Shares() []EmissionShare {
	return append([]EmissionShare(nil), e.shares...)
}

func (e *Emissions) Undistributed() int64 { return e.undistributed }

func (e *Emissions) Distributed() int64 { return e.distributed }

func (e *Emissions) Clone() *Emissions {
	return &Emissions{
		shares:        e.Shares(),
		undistributed: e.undistributed,
		distributed:   e.distributed,
	}
}

func (e *Emissions) State() EmissionsState {
	return EmissionsState{
		Shares:        e.Shares(),
		Undistributed: e.undistributed,
		Distributed:   e.distributed,
	}
}

func RestoreEmissions(s EmissionsState) *Emissions {
	return &Emissions{
		shares:        append([]EmissionShare(nil), s.Shares...),
		undistributed: s.Undistributed,
		distributed:   s.Distributed,
	}
}

// Distribute credits amount across the configured sides. Sides with no shares
// outstanding, rounding dust and any unassigned fraction accrue to the
// undistributed balance.
func (e *Emissions) Distribute(amount int64, lookup ReserveLookup) (DistributionResult, error) {
	res := DistributionResult{Amount: amount}
	if amount <= 0 {
		return res, fmt.Errorf("%w: distribution amount must be > 0", ErrInvalidInput)
	}

	var assigned int64
	for _, s := range e.shares {
		r, ok := lookup(s.Asset)
		if !ok {
			return res, fmt.Errorf("%w: emission share for unknown reserve %s", ErrInvalidInput, s.Asset)
		}
		portion, err := fpmath.Portion(amount, s.Share)
		if err != nil {
			return res, err
		}
		if portion == 0 {
			continue
		}

		total := r.TotalSupplyShares
		if s.Side == SideLiability {
			total = r.TotalLiabilityShares
		}
		if total == 0 {
			continue
		}

		delta, err := fpmath.MulDiv(portion, fpmath.Scalar12, total, fpmath.RoundDown)
		if err != nil {
			return res, err
		}
		if delta == 0 {
			continue
		}
		if s.Side == SideLiability {
			r.LiabilityRewardIndex, err = fpmath.Add(r.LiabilityRewardIndex, delta)
		} else {
			r.SupplyRewardIndex, err = fpmath.Add(r.SupplyRewardIndex, delta)
		}
		if err != nil {
			return res, err
		}

		// Only what the index actually pays out counts as assigned.
		paid, err := fpmath.MulDiv(delta, total, fpmath.Scalar12, fpmath.RoundDown)
		if err != nil {
			return res, err
		}
		assigned += paid
		res.Allocations = append(res.Allocations, Allocation{
			Asset:      s.Asset,
			Side:       s.Side,
			Portion:    paid,
			IndexDelta: delta,
		})
	}

	res.Undistributed = amount - assigned
	var err error
	if e.undistributed, err = fpmath.Add(e.undistributed, res.Undistributed); err != nil {
		return res, err
	}
	if e.distributed, err = fpmath.Add(e.distributed, assigned); err != nil {
		return res, err
	}
	return res, nil
}

// Checkpoint accrues the position's rewards up to the reserve's current
// indices. It must run before any share change on the position.
func Checkpoint(p *Position, r *Reserve) error {
	if p.SupplyShares > 0 && r.SupplyRewardIndex > p.SupplyRewardIndex {
		earned, err := fpmath.MulDiv(p.SupplyShares, r.SupplyRewardIndex-p.SupplyRewardIndex, fpmath.Scalar12, fpmath.RoundDown)
		if err != nil {
			return err
		}
		if p.AccruedRewards, err = fpmath.Add(p.AccruedRewards, earned); err != nil {
			return err
		}
	}
	if p.LiabilityShares > 0 && r.LiabilityRewardIndex > p.LiabilityRewardIndex {
		earned, err := fpmath.MulDiv(p.LiabilityShares, r.LiabilityRewardIndex-p.LiabilityRewardIndex, fpmath.Scalar12, fpmath.RoundDown)
		if err != nil {
			return err
		}
		if p.AccruedRewards, err = fpmath.Add(p.AccruedRewards, earned); err != nil {
			return err
		}
	}
	p.SupplyRewardIndex = r.SupplyRewardIndex
	p.LiabilityRewardIndex = r.LiabilityRewardIndex
	return nil
}

// Claim checkpoints every position, zeroes their accrued rewards and returns the total.
func (e *Emissions) Claim(positions []*Position, lookup ReserveLookup) (int64, error) {
	var total int64
	for _, p := range positions {
		r, ok := lookup(p.Asset)
		if !ok {
			return 0, fmt.Errorf("%w: unknown reserve %s", ErrInvalidInput, p.Asset)
		}
		if err := Checkpoint(p, r); err != nil {
			return 0, err
		}
		var err error
		if total, err = fpmath.Add(total, p.AccruedRewards); err != nil {
			return 0, err
		}
		p.AccruedRewards = 0
	}
	return total, nil
}
