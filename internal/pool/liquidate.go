package pool

import (
	"fmt"

	fpmath "LendingPool/internal/math"
	"LendingPool/internal/state"

	"github.com/google/uuid"
)

type pendingDraw struct {
	reserve     *state.Reserve
	position    *state.Position
	shares      int64
	amount      int64
	cashAfter   int64
	fresh       int64 // shares not yet written off
	freshAmount int64
	released    int64 // bad debt released if the draw succeeds
}

// Liquidate repays part of an unhealthy borrower's debt in liabilityAsset and
// transfers the matching collateral shares (plus bonus) in collateralAsset to
// the liquidator. Debt left without any collateral is drawn from the backstop
// or recorded as bad debt.
func (p *Pool) Liquidate(
	liquidator, borrower uuid.UUID,
	liabilityAsset, collateralAsset string,
	amount int64,
	now int64,
) (*Receipt, error) {
	return p.run("liquidate", now, func(tx *txn) error {
		if err := validateAction(liquidator, amount); err != nil {
			return err
		}
		if borrower == uuid.Nil {
			return fmt.Errorf("%w: borrower id must be set", state.ErrInvalidInput)
		}
		if liquidator == borrower {
			return fmt.Errorf("%w: cannot liquidate own position", state.ErrInvalidInput)
		}
		liabReserve, err := tx.reserveFor(liabilityAsset, state.ActionLiquidate)
		if err != nil {
			return err
		}
		collReserve, err := tx.reserveFor(collateralAsset, state.ActionLiquidate)
		if err != nil {
			return err
		}
		if err := tx.accrueUser(borrower, liabilityAsset, collateralAsset); err != nil {
			return err
		}

		req := state.LiquidationRequest{
			Liquidator:      liquidator,
			Borrower:        borrower,
			LiabilityAsset:  liabilityAsset,
			CollateralAsset: collateralAsset,
			Amount:          amount,
		}
		plan, err := p.liquidator.Plan(req, p.positions.Snapshot(borrower), p.lookup, now)
		if err != nil {
			return err
		}

		// Seizure
		if plan.RepayShares > 0 {
			if err := tx.adjust(borrower, liabReserve, 0, -plan.RepayShares); err != nil {
				return err
			}
			liabReserve.TotalLiabilityShares -= plan.RepayShares
		}
		if plan.RepayAmount > 0 {
			if liabReserve.Cash, err = fpmath.Add(liabReserve.Cash, plan.RepayAmount); err != nil {
				return err
			}
			tx.transfer(PurposeLiquidationRepay, liquidator, liabilityAsset, plan.RepayAmount)
		}
		if plan.SeizeShares > 0 {
			if err := tx.adjust(borrower, collReserve, -plan.SeizeShares, 0); err != nil {
				return err
			}
			if err := tx.adjust(liquidator, collReserve, plan.SeizeShares, 0); err != nil {
				return err
			}
		}

		// Post-state
		after := p.positions.Snapshot(borrower)
		collateralLeft, liabilityLeft := false, false
		for _, s := range after {
			collateralLeft = collateralLeft || s.SupplyShares > 0
			liabilityLeft = liabilityLeft || s.LiabilityShares > 0
		}
		post, err := p.risk.HealthCheck(after, nil, p.lookup, now)
		if err != nil {
			return err
		}
		shortfall, err := p.liquidator.Settle(plan, post, collateralLeft, liabilityLeft)
		if err != nil {
			return err
		}

		result := &LiquidationResult{
			Liquidator:      liquidator,
			Borrower:        borrower,
			LiabilityAsset:  liabilityAsset,
			CollateralAsset: collateralAsset,
			PostHealth:      post,
		}
		if shortfall {
			if result.Shortfall, err = tx.coverShortfall(borrower, after); err != nil {
				return err
			}
		}
		if plan.RepayShares == 0 && plan.SeizeShares == 0 && !resolvesShortfall(result.Shortfall) {
			return fmt.Errorf("%w: borrower has no collateral and the shortfall is already recorded", state.ErrNotEligible)
		}
		result.Plan = *plan

		tx.receipt.User, tx.receipt.Asset = liquidator, liabilityAsset
		tx.receipt.Amount, tx.receipt.Shares = plan.RepayAmount, plan.RepayShares
		tx.receipt.Liquidation = result
		return nil
	})
}

// coverShortfall draws each remaining liability from the backstop, in reserve
// order. Debt the backstop cannot cover is added to bad debt once; shares
// written off by an earlier call are not counted again. Everything fallible
// runs before the first Draw, so no error can follow an external transfer.
func (tx *txn) coverShortfall(borrower uuid.UUID, after []state.PositionSnapshot) ([]ShortfallResult, error) {
	var draws []pendingDraw
	for _, s := range after {
		if s.LiabilityShares == 0 {
			continue
		}
		r, err := tx.reserve(s.Asset)
		if err != nil {
			return nil, err
		}
		pos, err := tx.position(borrower, r)
		if err != nil {
			return nil, err
		}
		d := pendingDraw{reserve: r, position: pos, shares: s.LiabilityShares}
		if d.amount, err = r.LiabilitySharesToTokens(s.LiabilityShares, fpmath.RoundUp); err != nil {
			return nil, err
		}
		if d.cashAfter, err = fpmath.Add(r.Cash, d.amount); err != nil {
			return nil, err
		}
		d.fresh = s.LiabilityShares - pos.WrittenOffShares
		if d.freshAmount, err = r.LiabilitySharesToTokens(d.fresh, fpmath.RoundUp); err != nil {
			return nil, err
		}
		if _, err = fpmath.Add(r.BadDebt, d.freshAmount); err != nil {
			return nil, err
		}
		released, err := r.LiabilitySharesToTokens(pos.WrittenOffShares, fpmath.RoundUp)
		if err != nil {
			return nil, err
		}
		d.released = fpmath.Min(released, r.BadDebt)
		draws = append(draws, d)
	}

	results := make([]ShortfallResult, 0, len(draws))
	for _, d := range draws {
		res := ShortfallResult{Asset: d.reserve.Asset, Amount: d.amount, Shares: d.shares}
		switch {
		case tx.pool.backstop.Draw(d.reserve.Asset, d.amount):
			d.position.LiabilityShares -= d.shares
			d.position.WrittenOffShares = 0
			d.reserve.TotalLiabilityShares -= d.shares
			d.reserve.Cash = d.cashAfter
			d.reserve.BadDebt -= d.released
			tx.pool.positions.Prune(borrower, d.reserve.Index)
			tx.transfer(PurposeBackstopDraw, uuid.Nil, d.reserve.Asset, d.amount)
			res.Covered = true
		case d.fresh > 0:
			d.reserve.BadDebt += d.freshAmount
			d.position.WrittenOffShares = d.shares
			res.Recorded = d.freshAmount
		}
		results = append(results, res)
	}
	return results, nil
}

// resolvesShortfall reports whether any liability was drawn from the backstop
// or newly recorded as bad debt.
func resolvesShortfall(results []ShortfallResult) bool {
	for _, r := range results {
		if r.Covered || r.Recorded > 0 {
			return true
		}
	}
	return false
}
