package core

import (
	"fmt"

	"LendingPool/internal/ledger"
	"LendingPool/internal/pool"
	"LendingPool/internal/state"
)

// SnapshotState holds the serializable in-memory state for restore.
// persistence.SnapshotData is its JSON form.
type SnapshotState struct {
	Sequence        int64 // last applied sequence
	StateHash       [32]byte
	Clock           int64
	Balances        map[ledger.AccountKey]int64
	Assets          []string // ledger asset registration order
	Pool            *pool.Snapshot
	Prices          map[string]state.PriceData
	Fund            state.FundState
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Clock:           c.clock,
		Balances:        c.balanceTracker.Snapshot(),
		Assets:          ledger.RegisteredAssets(),
		Prices:          c.prices.All(),
		Fund:            c.fund.State(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.Keys(),
	}
	if c.pool != nil {
		ps := c.pool.Export()
		snap.Pool = &ps
	}
	return snap
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// On warm restart the caller then replays events after snap.Sequence.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil {
		return fmt.Errorf("restore into a core that already has pool %q", c.pool.Name())
	}

	for _, asset := range snap.Assets {
		ledger.RegisterAsset(asset)
	}

	c.sequence = snap.Sequence + 1
	c.journalGen.SetSequence(c.sequence)
	c.hasher.SetPrevHash(snap.StateHash)
	c.clock = snap.Clock

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}

	c.prices.Restore(snap.Prices)
	c.fund.Restore(snap.Fund)

	if snap.Pool != nil && snap.Pool.Initialized {
		p, err := pool.Restore(*snap.Pool, c.prices, c.fund)
		if err != nil {
			return fmt.Errorf("restore pool: %w", err)
		}
		if err := c.factory.Adopt(p); err != nil {
			return err
		}
		c.adoptPool(p)

		// A restored ledger must agree with the restored reserves.
		for _, r := range p.Reserves() {
			if err := c.validator.ValidateReserveCash(r.Asset, r.Cash); err != nil {
				return fmt.Errorf("restore: %w", err)
			}
		}
	}

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}

	c.idempotency.WarmFromKeys(snap.IdempotencyKeys)
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.WarmFromKeys(keys)
}
