package pool

import (
	"fmt"

	"LendingPool/internal/state"

	"github.com/google/uuid"
)

// Distribute credits amount of the reward asset from the emitter across the
// configured reserve sides.
func (p *Pool) Distribute(amount int64, now int64) (*Receipt, error) {
	return p.run("emission_distribute", now, func(tx *txn) error {
		if amount <= 0 {
			return fmt.Errorf("%w: amount must be > 0, got %d", state.ErrInvalidInput, amount)
		}
		if p.cfg.RewardAsset == "" {
			return fmt.Errorf("%w: pool has no reward asset", state.ErrInvalidInput)
		}

		for _, s := range p.emissions.Shares() {
			if _, err := tx.reserve(s.Asset); err != nil {
				return err
			}
		}
		tx.touchEmissions()

		res, err := p.emissions.Distribute(amount, p.lookup)
		if err != nil {
			return err
		}

		tx.transfer(PurposeEmission, uuid.Nil, p.cfg.RewardAsset, amount)
		tx.receipt.Asset = p.cfg.RewardAsset
		tx.receipt.Amount = amount
		tx.receipt.Distribution = &res
		return nil
	})
}

// Claim pays out every reward the user has accrued across all positions.
func (p *Pool) Claim(user uuid.UUID, now int64) (*Receipt, error) {
	return p.run("reward_claim", now, func(tx *txn) error {
		if user == uuid.Nil {
			return fmt.Errorf("%w: user id must be set", state.ErrInvalidInput)
		}

		held := p.positions.UserPositions(user)
		positions := make([]*state.Position, 0, len(held))
		for _, h := range held {
			r, err := tx.reserve(h.Asset)
			if err != nil {
				return err
			}
			pos, err := tx.position(user, r)
			if err != nil {
				return err
			}
			positions = append(positions, pos)
		}

		total, err := p.emissions.Claim(positions, p.lookup)
		if err != nil {
			return err
		}
		for _, pos := range positions {
			p.positions.Prune(user, pos.ReserveIndex)
		}

		tx.transfer(PurposeRewardClaim, user, p.cfg.RewardAsset, total)
		tx.receipt.User = user
		tx.receipt.Asset = p.cfg.RewardAsset
		tx.receipt.Amount = total
		tx.receipt.Rewards = total
		return nil
	})
}

// SetEmissions replaces the reward share config.
func (p *Pool) SetEmissions(shares []state.EmissionShare, now int64) (*Receipt, error) {
	return p.run("emission_config", now, func(tx *txn) error {
		if len(shares) > 0 && p.cfg.RewardAsset == "" {
			return fmt.Errorf("%w: pool has no reward asset", state.ErrInvalidInput)
		}
		known := make(map[string]bool, len(p.order))
		for _, a := range p.order {
			known[a] = true
		}
		tx.touchEmissions()
		if err := p.emissions.SetEmissions(shares, known); err != nil {
			return err
		}
		tx.receipt.Emissions = p.emissions.Shares()
		return nil
	})
}

// EmissionShares returns the active reward share table.
func (p *Pool) EmissionShares() []state.EmissionShare {
	return p.emissions.Shares()
}

// PendingRewards returns the user's claimable rewards without mutating state.
func (p *Pool) PendingRewards(user uuid.UUID) (int64, error) {
	if !p.initialized {
		return 0, state.ErrNotInitialized
	}
	var positions []*state.Position
	for _, pos := range p.positions.UserPositions(user) {
		positions = append(positions, pos.Clone())
	}
	return p.emissions.Clone().Claim(positions, p.lookup)
}
