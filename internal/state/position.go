// internal/state/position.go
package state

import (
	"bytes"
	"fmt"

	fpmath "LendingPool/internal/math"

	"github.com/google/btree"
	"github.com/google/uuid"
)

// Position is a user's share balances in one reserve.
type Position struct {
	UserID       uuid.UUID `json:"user_id"`
	Asset        string    `json:"asset"`
	ReserveIndex uint32    `json:"reserve_index"`

	SupplyShares    int64 `json:"supply_shares"`
	LiabilityShares int64 `json:"liability_shares"`

	// Liability shares already recorded as reserve bad debt.
	WrittenOffShares int64 `json:"written_off_shares,omitempty"`

	// Emissions checkpoint
	SupplyRewardIndex    int64 `json:"supply_reward_index"`
	LiabilityRewardIndex int64 `json:"liability_reward_index"`
	AccruedRewards       int64 `json:"accrued_rewards"`
}

// PositionKey identifies a position.
type PositionKey struct {
	UserID       uuid.UUID
	ReserveIndex uint32
}

func (p *Position) Key() PositionKey {
	return PositionKey{UserID: p.UserID, ReserveIndex: p.ReserveIndex}
}

// IsEmpty returns true if the position holds no shares on either side.
func (p *Position) IsEmpty() bool {
	return p.SupplyShares == 0 && p.LiabilityShares == 0
}

func (p *Position) Clone() *Position {
	c := *p
	return &c
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)

	// user_id (16 bytes UUID binary)
	buf = append(buf, p.UserID[:]...)

	// asset (length-prefixed)
	buf = append(buf, byte(len(p.Asset)))
	buf = append(buf, []byte(p.Asset)...)

	buf = appendInt64LE(buf, p.SupplyShares)
	buf = appendInt64LE(buf, p.LiabilityShares)
	buf = appendInt64LE(buf, p.WrittenOffShares)
	buf = appendInt64LE(buf, p.SupplyRewardIndex)
	buf = appendInt64LE(buf, p.LiabilityRewardIndex)
	buf = appendInt64LE(buf, p.AccruedRewards)

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// PositionSnapshot is one row of a user's holdings.
type PositionSnapshot struct {
	Asset           string `json:"asset"`
	ReserveIndex    uint32 `json:"reserve_index"`
	SupplyShares    int64  `json:"supply_shares"`
	LiabilityShares int64  `json:"liability_shares"`
}

func positionLess(a, b *Position) bool {
	if c := bytes.Compare(a.UserID[:], b.UserID[:]); c != 0 {
		return c < 0
	}
	return a.ReserveIndex < b.ReserveIndex
}

// PositionLedger stores positions ordered by (user, reserve index), so a
// per-user range scan yields positions in reserve order.
type PositionLedger struct {
	tree *btree.BTreeG[*Position]
}

func NewPositionLedger() *PositionLedger {
	return &PositionLedger{
		tree: btree.NewG(32, positionLess),
	}
}

func (pl *PositionLedger) Get(userID uuid.UUID, reserveIndex uint32) (*Position, bool) {
	return pl.tree.Get(&Position{UserID: userID, ReserveIndex: reserveIndex})
}

// Ensure returns the position for (user, reserve), creating an empty one if needed.
func (pl *PositionLedger) Ensure(userID uuid.UUID, r *Reserve) *Position {
	if p, ok := pl.Get(userID, r.Index); ok {
		return p
	}
	p := &Position{
		UserID:               userID,
		Asset:                r.Asset,
		ReserveIndex:         r.Index,
		SupplyRewardIndex:    r.SupplyRewardIndex,
		LiabilityRewardIndex: r.LiabilityRewardIndex,
	}
	pl.tree.ReplaceOrInsert(p)
	return p
}

// Set inserts or replaces a position.
func (pl *PositionLedger) Set(p *Position) {
	pl.tree.ReplaceOrInsert(p)
}

func (pl *PositionLedger) Delete(userID uuid.UUID, reserveIndex uint32) {
	pl.tree.Delete(&Position{UserID: userID, ReserveIndex: reserveIndex})
}

// Adjust applies share deltas to a position. A result below zero is rejected
// and leaves the position unchanged. Positions left with no shares and no
// unclaimed rewards are pruned.
func (pl *PositionLedger) Adjust(userID uuid.UUID, r *Reserve, supplyDelta, liabilityDelta int64) (*Position, error) {
	p := pl.Ensure(userID, r)

	supply, err := fpmath.Add(p.SupplyShares, supplyDelta)
	if err != nil {
		return nil, err
	}
	liability, err := fpmath.Add(p.LiabilityShares, liabilityDelta)
	if err != nil {
		return nil, err
	}
	if supply < 0 || liability < 0 {
		pl.Prune(userID, r.Index)
		return nil, fmt.Errorf("%w: position %s/%s would go negative (supply %d, liability %d)",
			ErrInvalidInput, userID, r.Asset, supply, liability)
	}

	p.SupplyShares = supply
	p.LiabilityShares = liability
	p.WrittenOffShares = fpmath.Min(p.WrittenOffShares, liability)
	pl.Prune(userID, r.Index)
	return p, nil
}

// Prune removes the position if it is empty and has nothing left to claim.
func (pl *PositionLedger) Prune(userID uuid.UUID, reserveIndex uint32) {
	if p, ok := pl.Get(userID, reserveIndex); ok && p.IsEmpty() && p.AccruedRewards == 0 {
		pl.Delete(userID, reserveIndex)
	}
}

// UserPositions returns the user's positions in reserve order.
func (pl *PositionLedger) UserPositions(userID uuid.UUID) []*Position {
	var out []*Position
	pl.tree.AscendGreaterOrEqual(&Position{UserID: userID}, func(p *Position) bool {
		if p.UserID != userID {
			return false
		}
		out = append(out, p)
		return true
	})
	return out
}

// Snapshot returns (asset, supply_shares, liability_shares) rows for the user,
// ordered by reserve index. Logically absent positions are skipped.
func (pl *PositionLedger) Snapshot(userID uuid.UUID) []PositionSnapshot {
	positions := pl.UserPositions(userID)
	out := make([]PositionSnapshot, 0, len(positions))
	for _, p := range positions {
		if p.IsEmpty() {
			continue
		}
		out = append(out, PositionSnapshot{
			Asset:           p.Asset,
			ReserveIndex:    p.ReserveIndex,
			SupplyShares:    p.SupplyShares,
			LiabilityShares: p.LiabilityShares,
		})
	}
	return out
}

// All returns every position in key order.
func (pl *PositionLedger) All() []*Position {
	out := make([]*Position, 0, pl.tree.Len())
	pl.tree.Ascend(func(p *Position) bool {
		out = append(out, p)
		return true
	})
	return out
}

func (pl *PositionLedger) Len() int {
	return pl.tree.Len()
}
