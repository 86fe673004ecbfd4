// internal/pool/pool.go
package pool

import (
	"fmt"

	fpmath "LendingPool/internal/math"
	"LendingPool/internal/state"

	"github.com/google/uuid"
)

// Pool is a single lending pool. It is not goroutine-safe; the owner
// serializes calls.
type Pool struct {
	cfg         state.PoolConfig
	initialized bool

	reserves map[string]*state.Reserve
	order    []string // registration order

	positions *state.PositionLedger
	emissions *state.Emissions

	oracle     state.Oracle
	backstop   state.Backstop
	risk       *state.RiskEngine
	liquidator *state.LiquidationEngine
}

func New(oracle state.Oracle, backstop state.Backstop) *Pool {
	return &Pool{
		reserves:  make(map[string]*state.Reserve),
		positions: state.NewPositionLedger(),
		emissions: state.NewEmissions(nil),
		oracle:    oracle,
		backstop:  backstop,
	}
}

// Initialize configures the pool. It may run once.
func (p *Pool) Initialize(cfg state.PoolConfig, now int64) error {
	if p.initialized {
		return fmt.Errorf("pool %s: %w", p.cfg.Name, state.ErrAlreadyInitialized)
	}
	if err := state.ValidatePoolConfig(&cfg); err != nil {
		return err
	}

	p.cfg = cfg
	p.order = p.order[:0]
	for i, rc := range cfg.Reserves {
		p.reserves[rc.Asset] = state.NewReserve(uint32(i), rc, now)
		p.order = append(p.order, rc.Asset)
	}
	p.emissions = state.NewEmissions(cfg.Emissions)
	p.wireEngines()
	p.initialized = true
	return nil
}

func (p *Pool) wireEngines() {
	p.risk = state.NewRiskEngine(p.oracle, p.cfg.MaxPriceAge)
	p.liquidator = state.NewLiquidationEngine(p.risk, p.cfg.FullCloseHealthFactor)
}

func (p *Pool) lookup(asset string) (*state.Reserve, bool) {
	r, ok := p.reserves[asset]
	return r, ok
}

func validateAction(user uuid.UUID, amount int64) error {
	if user == uuid.Nil {
		return fmt.Errorf("%w: user id must be set", state.ErrInvalidInput)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be > 0, got %d", state.ErrInvalidInput, amount)
	}
	return nil
}

// Supply deposits amount of asset as collateral, minting supply shares rounded down.
func (p *Pool) Supply(user uuid.UUID, asset string, amount int64, now int64) (*Receipt, error) {
	return p.run("supply", now, func(tx *txn) error {
		if err := validateAction(user, amount); err != nil {
			return err
		}
		r, err := tx.reserveFor(asset, state.ActionSupply)
		if err != nil {
			return err
		}
		if err := tx.accrue(r); err != nil {
			return err
		}

		shares, err := r.SupplyTokensToShares(amount, fpmath.RoundDown)
		if err != nil {
			return err
		}
		if shares == 0 {
			return fmt.Errorf("%w: amount %d mints no shares", state.ErrInvalidInput, amount)
		}
		if limit := r.Config.SupplyCap; limit > 0 {
			supplied, err := r.SuppliedTokens()
			if err != nil {
				return err
			}
			if supplied > limit-amount {
				return fmt.Errorf("%w: supply cap %d for %s exceeded", state.ErrInvalidInput, limit, asset)
			}
		}

		if err := tx.adjust(user, r, shares, 0); err != nil {
			return err
		}
		if r.TotalSupplyShares, err = fpmath.Add(r.TotalSupplyShares, shares); err != nil {
			return err
		}
		if r.Cash, err = fpmath.Add(r.Cash, amount); err != nil {
			return err
		}

		tx.transfer(PurposeSupply, user, asset, amount)
		tx.receipt.User, tx.receipt.Asset = user, asset
		tx.receipt.Amount, tx.receipt.Shares = amount, shares
		return nil
	})
}

// Withdraw redeems amount of asset, burning supply shares rounded up. Burning
// the whole balance is allowed when only rounding separates it from amount.
func (p *Pool) Withdraw(user uuid.UUID, asset string, amount int64, now int64) (*Receipt, error) {
	return p.run("withdraw", now, func(tx *txn) error {
		if err := validateAction(user, amount); err != nil {
			return err
		}
		r, err := tx.reserveFor(asset, state.ActionWithdraw)
		if err != nil {
			return err
		}
		if err := tx.accrueUser(user, asset); err != nil {
			return err
		}

		var held int64
		if pos, ok := p.positions.Get(user, r.Index); ok {
			held = pos.SupplyShares
		}
		shares, err := r.SupplyTokensToShares(amount, fpmath.RoundUp)
		if err != nil {
			return err
		}
		if shares > held {
			exact, err := r.SupplyTokensToShares(amount, fpmath.RoundDown)
			if err != nil {
				return err
			}
			if exact > held {
				return fmt.Errorf("%w: withdraw %d exceeds supplied balance", state.ErrInvalidInput, amount)
			}
			shares = held
		}
		if r.Cash < amount {
			return fmt.Errorf("%w: %s cash %d < %d", state.ErrInsufficientLiquidity, asset, r.Cash, amount)
		}

		health, err := p.risk.HealthCheck(
			p.positions.Snapshot(user),
			[]state.Change{{Asset: asset, SupplyShares: -shares}},
			p.lookup,
			now,
		)
		if err != nil {
			return err
		}
		if !health.Healthy {
			return fmt.Errorf("%w: health factor would be %d", state.ErrInsufficientCollateral, health.HealthFactor)
		}

		if err := tx.adjust(user, r, -shares, 0); err != nil {
			return err
		}
		r.TotalSupplyShares -= shares
		r.Cash -= amount

		tx.transfer(PurposeWithdraw, user, asset, amount)
		tx.receipt.User, tx.receipt.Asset = user, asset
		tx.receipt.Amount, tx.receipt.Shares = amount, shares
		return nil
	})
}

// Borrow draws amount of asset against the user's collateral, minting
// liability shares rounded up.
func (p *Pool) Borrow(user uuid.UUID, asset string, amount int64, now int64) (*Receipt, error) {
	return p.run("borrow", now, func(tx *txn) error {
		if err := validateAction(user, amount); err != nil {
			return err
		}
		r, err := tx.reserveFor(asset, state.ActionBorrow)
		if err != nil {
			return err
		}
		if err := tx.accrueUser(user, asset); err != nil {
			return err
		}

		shares, err := r.LiabilityTokensToShares(amount, fpmath.RoundUp)
		if err != nil {
			return err
		}
		if r.Cash < amount {
			return fmt.Errorf("%w: %s cash %d < %d", state.ErrInsufficientLiquidity, asset, r.Cash, amount)
		}

		health, err := p.risk.HealthCheck(
			p.positions.Snapshot(user),
			[]state.Change{{Asset: asset, LiabilityShares: shares}},
			p.lookup,
			now,
		)
		if err != nil {
			return err
		}
		if !health.Healthy {
			return fmt.Errorf("%w: health factor would be %d", state.ErrInsufficientCollateral, health.HealthFactor)
		}

		if err := tx.adjust(user, r, 0, shares); err != nil {
			return err
		}
		if r.TotalLiabilityShares, err = fpmath.Add(r.TotalLiabilityShares, shares); err != nil {
			return err
		}
		r.Cash -= amount

		tx.transfer(PurposeBorrow, user, asset, amount)
		tx.receipt.User, tx.receipt.Asset = user, asset
		tx.receipt.Amount, tx.receipt.Shares = amount, shares
		return nil
	})
}

// Repay pays down the user's debt in asset, burning liability shares rounded
// down. Amounts above the outstanding debt are clamped to it.
func (p *Pool) Repay(user uuid.UUID, asset string, amount int64, now int64) (*Receipt, error) {
	return p.run("repay", now, func(tx *txn) error {
		if err := validateAction(user, amount); err != nil {
			return err
		}
		r, err := tx.reserveFor(asset, state.ActionRepay)
		if err != nil {
			return err
		}
		if err := tx.accrue(r); err != nil {
			return err
		}

		pos, ok := p.positions.Get(user, r.Index)
		if !ok || pos.LiabilityShares == 0 {
			return fmt.Errorf("%w: no %s debt to repay", state.ErrInvalidInput, asset)
		}
		outstanding, err := r.LiabilitySharesToTokens(pos.LiabilityShares, fpmath.RoundUp)
		if err != nil {
			return err
		}
		pay := fpmath.Min(amount, outstanding)
		shares := pos.LiabilityShares
		if pay < outstanding {
			if shares, err = r.LiabilityTokensToShares(pay, fpmath.RoundDown); err != nil {
				return err
			}
		}
		if shares == 0 {
			return fmt.Errorf("%w: repay %d burns no shares", state.ErrInvalidInput, pay)
		}

		if err := tx.adjust(user, r, 0, -shares); err != nil {
			return err
		}
		r.TotalLiabilityShares -= shares
		if r.Cash, err = fpmath.Add(r.Cash, pay); err != nil {
			return err
		}

		tx.transfer(PurposeRepay, user, asset, pay)
		tx.receipt.User, tx.receipt.Asset = user, asset
		tx.receipt.Amount, tx.receipt.Shares = pay, shares
		return nil
	})
}

// SetReserveStatus changes the action gate of a reserve.
func (p *Pool) SetReserveStatus(asset string, status state.ReserveStatus, now int64) (*Receipt, error) {
	return p.run("reserve_status", now, func(tx *txn) error {
		if status != state.ReserveActive && status != state.ReserveFrozen && status != state.ReservePaused {
			return fmt.Errorf("%w: unknown status %d", state.ErrInvalidInput, status)
		}
		r, err := tx.reserve(asset)
		if err != nil {
			return err
		}
		if err := tx.accrue(r); err != nil {
			return err
		}
		r.Status = status
		tx.receipt.Asset = asset
		return nil
	})
}

// Accrue brings one reserve current without any other effect.
func (p *Pool) Accrue(asset string, now int64) (*Receipt, error) {
	return p.run("accrue", now, func(tx *txn) error {
		r, err := tx.reserve(asset)
		if err != nil {
			return err
		}
		tx.receipt.Asset = asset
		return tx.accrue(r)
	})
}

// HealthCheck evaluates the user at now without mutating pool state.
func (p *Pool) HealthCheck(user uuid.UUID, now int64) (state.AccountHealth, error) {
	if !p.initialized {
		return state.AccountHealth{}, state.ErrNotInitialized
	}
	snap := p.positions.Snapshot(user)
	accrued := make(map[string]*state.Reserve, len(snap))
	for _, s := range snap {
		c := p.reserves[s.Asset].Clone()
		if _, err := c.Accrue(now); err != nil {
			return state.AccountHealth{}, err
		}
		accrued[s.Asset] = c
	}
	lookup := func(asset string) (*state.Reserve, bool) {
		r, ok := accrued[asset]
		return r, ok
	}
	return p.risk.HealthCheck(snap, nil, lookup, now)
}
