package pool

import (
	"fmt"

	fpmath "LendingPool/internal/math"
	"LendingPool/internal/state"

	"github.com/google/uuid"
)

// txn is an undo log over one pool operation. Mutations go straight to pool
// state; pre-images are captured on first touch and restored on failure.
// Backstop deposits are deferred until commit.
type txn struct {
	pool *Pool
	now  int64

	reserveUndo  map[string]*state.Reserve
	reserveOrder []string

	positionUndo  map[state.PositionKey]*state.Position // nil: did not exist
	positionOrder []state.PositionKey

	emissionsUndo *state.Emissions

	deferred []func()
	receipt  *Receipt
}

// run executes fn atomically: on error every touched reserve, position and
// the emissions state are restored and deferred side effects are dropped.
func (p *Pool) run(action string, now int64, fn func(tx *txn) error) (*Receipt, error) {
	if !p.initialized {
		return nil, state.ErrNotInitialized
	}

	tx := &txn{
		pool:         p,
		now:          now,
		reserveUndo:  make(map[string]*state.Reserve),
		positionUndo: make(map[state.PositionKey]*state.Position),
		receipt:      &Receipt{Action: action, Timestamp: now},
	}

	if err := fn(tx); err != nil {
		tx.rollback()
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	return tx.commit(), nil
}

func (tx *txn) rollback() {
	p := tx.pool
	for asset, pre := range tx.reserveUndo {
		p.reserves[asset] = pre
	}
	for key, pre := range tx.positionUndo {
		if pre == nil {
			p.positions.Delete(key.UserID, key.ReserveIndex)
		} else {
			p.positions.Set(pre)
		}
	}
	if tx.emissionsUndo != nil {
		p.emissions = tx.emissionsUndo
	}
	tx.deferred = nil
}

func (tx *txn) commit() *Receipt {
	for _, fn := range tx.deferred {
		fn()
	}

	p := tx.pool
	rc := tx.receipt
	for _, asset := range p.order {
		if _, ok := tx.reserveUndo[asset]; ok {
			rc.Reserves = append(rc.Reserves, *p.reserves[asset])
		}
	}
	for _, key := range tx.positionOrder {
		if pos, ok := p.positions.Get(key.UserID, key.ReserveIndex); ok {
			rc.Positions = append(rc.Positions, PositionChange{Position: *pos})
			continue
		}
		pre := tx.positionUndo[key]
		if pre == nil {
			// Created and pruned within the operation.
			continue
		}
		rc.Positions = append(rc.Positions, PositionChange{
			Position: state.Position{UserID: key.UserID, Asset: pre.Asset, ReserveIndex: key.ReserveIndex},
			Deleted:  true,
		})
	}
	return rc
}

// reserve returns the live reserve for asset, capturing its pre-image.
func (tx *txn) reserve(asset string) (*state.Reserve, error) {
	r, ok := tx.pool.reserves[asset]
	if !ok {
		return nil, fmt.Errorf("%w: unknown reserve %s", state.ErrInvalidInput, asset)
	}
	if _, seen := tx.reserveUndo[asset]; !seen {
		tx.reserveUndo[asset] = r.Clone()
		tx.reserveOrder = append(tx.reserveOrder, asset)
	}
	return r, nil
}

// reserveFor is reserve plus the status gate for action.
func (tx *txn) reserveFor(asset string, action state.Action) (*state.Reserve, error) {
	r, err := tx.reserve(asset)
	if err != nil {
		return nil, err
	}
	if !r.Status.Allows(action) {
		return nil, fmt.Errorf("%w: %s is %s, %s not allowed", state.ErrReserveNotActive, asset, r.Status, action)
	}
	return r, nil
}

// position returns the live position for (user, r), creating it if needed,
// and checkpoints its rewards so a share change can follow.
func (tx *txn) position(user uuid.UUID, r *state.Reserve) (*state.Position, error) {
	ledger := tx.pool.positions
	key := state.PositionKey{UserID: user, ReserveIndex: r.Index}
	if _, seen := tx.positionUndo[key]; !seen {
		if existing, ok := ledger.Get(user, r.Index); ok {
			tx.positionUndo[key] = existing.Clone()
		} else {
			tx.positionUndo[key] = nil
		}
		tx.positionOrder = append(tx.positionOrder, key)
	}
	pos := ledger.Ensure(user, r)
	if err := state.Checkpoint(pos, r); err != nil {
		return nil, err
	}
	return pos, nil
}

// adjust checkpoints rewards and applies share deltas to a position. Paying
// down written-off shares releases the matching bad debt.
func (tx *txn) adjust(user uuid.UUID, r *state.Reserve, supplyDelta, liabilityDelta int64) error {
	pos, err := tx.position(user, r)
	if err != nil {
		return err
	}
	writtenOff := pos.WrittenOffShares
	pos, err = tx.pool.positions.Adjust(user, r, supplyDelta, liabilityDelta)
	if err != nil {
		return err
	}
	return releaseBadDebt(r, writtenOff-pos.WrittenOffShares)
}

// releaseBadDebt removes the current value of shares from r.BadDebt.
func releaseBadDebt(r *state.Reserve, shares int64) error {
	if shares <= 0 || r.BadDebt == 0 {
		return nil
	}
	tokens, err := r.LiabilitySharesToTokens(shares, fpmath.RoundUp)
	if err != nil {
		return err
	}
	r.BadDebt -= fpmath.Min(tokens, r.BadDebt)
	return nil
}

func (tx *txn) touchEmissions() {
	if tx.emissionsUndo == nil {
		tx.emissionsUndo = tx.pool.emissions.Clone()
	}
}

func (tx *txn) transfer(purpose Purpose, user uuid.UUID, asset string, amount int64) {
	if amount == 0 {
		return
	}
	tx.receipt.Transfers = append(tx.receipt.Transfers, Transfer{
		Purpose: purpose,
		User:    user,
		Asset:   asset,
		Amount:  amount,
	})
}

// accrue brings r current and forwards reserve-factor revenue to the backstop
// as far as cash allows. The deposit itself runs at commit.
func (tx *txn) accrue(r *state.Reserve) error {
	res, err := r.Accrue(tx.now)
	if err != nil {
		return err
	}
	if res.Elapsed > 0 {
		tx.receipt.Accruals = append(tx.receipt.Accruals, res)
	}

	payable := fpmath.Min(r.BackstopCredit, r.Cash)
	if payable <= 0 {
		return nil
	}
	r.Cash -= payable
	r.BackstopCredit -= payable

	backstop, asset := tx.pool.backstop, r.Asset
	tx.deferred = append(tx.deferred, func() {
		backstop.DepositInterest(asset, payable)
	})
	tx.transfer(PurposeBackstopInterest, uuid.Nil, asset, payable)
	return nil
}

// accrueUser accrues every reserve the user holds plus any extra assets.
func (tx *txn) accrueUser(user uuid.UUID, extra ...string) error {
	seen := make(map[string]bool)
	assets := make([]string, 0, len(extra))
	for _, p := range tx.pool.positions.UserPositions(user) {
		if !seen[p.Asset] {
			seen[p.Asset] = true
			assets = append(assets, p.Asset)
		}
	}
	for _, a := range extra {
		if !seen[a] {
			seen[a] = true
			assets = append(assets, a)
		}
	}
	for _, a := range assets {
		r, err := tx.reserve(a)
		if err != nil {
			return err
		}
		if err := tx.accrue(r); err != nil {
			return fmt.Errorf("accrue %s: %w", a, err)
		}
	}
	return nil
}
