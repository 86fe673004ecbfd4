package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"LendingPool/internal/core"
	"LendingPool/internal/event"
	"LendingPool/internal/ledger"
	fpmath "LendingPool/internal/math"
	"LendingPool/internal/state"

	"github.com/google/uuid"
)

// --- Test helpers ---

const (
	baseTs   int64 = 1_700_000_000
	oneToken int64 = 10_000_000
)

// newTestCore creates a DeterministicCore with buffered channels and no DB checker.
func newTestCore(t *testing.T) (*core.DeterministicCore, chan core.CoreOutput, chan core.CoreOutput) {
	t.Helper()
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c, err := core.NewDeterministicCore(1, persistChan, projChan, nil, 1024, nil)
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	return c, persistChan, projChan
}

func reserveConfig(asset string) state.ReserveConfig {
	return state.ReserveConfig{
		Asset:                asset,
		Decimals:             7,
		CollateralFactor:     8_000_000,
		LiabilityFactor:      fpmath.Scalar7,
		ReserveFactor:        1_000_000,
		BaseRate:             200_000,
		Slope1:               400_000,
		Slope2:               7_500_000,
		Kink:                 8_000_000,
		LiquidationThreshold: 9_000_000,
		LiquidationBonus:     500_000,
		CloseFactor:          5_000_000,
	}
}

func mustPoolInitialized() *event.PoolInitialized {
	return &event.PoolInitialized{
		Config: state.PoolConfig{
			Name:                  "core-test",
			MaxPriceAge:           3_600,
			FullCloseHealthFactor: 9_500_000,
			RewardAsset:           "RWD",
			Reserves:              []state.ReserveConfig{reserveConfig("COLL"), reserveConfig("DEBT")},
			Emissions: []state.EmissionShare{
				{Asset: "COLL", Side: state.SideSupply, Share: 10_000_000},
			},
		},
		Sequence:  0,
		Timestamp: baseTs,
	}
}

// mustPrice quotes asset at price (Scalar7) with the given oracle sequence.
func mustPrice(asset string, price int64, priceSeq int64) *event.PriceUpdate {
	return &event.PriceUpdate{
		Reserve:        asset,
		Price:          price,
		Decimals:       7,
		PriceSequence:  priceSeq,
		PriceTimestamp: baseTs + priceSeq,
	}
}

func action(user uuid.UUID, asset string, tokens int64, seq int64) event.UserAction {
	return event.UserAction{
		ActionID:  uuid.New(),
		UserID:    user,
		Reserve:   asset,
		Amount:    tokens * oneToken,
		Sequence:  seq,
		Timestamp: baseTs + 10,
	}
}

func mustProcess(t *testing.T, c *core.DeterministicCore, evt event.Event) *core.CoreOutput {
	t.Helper()
	out, err := c.ProcessEvent(evt)
	if err != nil {
		t.Fatalf("%s: %v", evt.EventType(), err)
	}
	if out == nil {
		t.Fatalf("%s: unexpectedly skipped", evt.EventType())
	}
	return out
}

// lendingSetup initializes the pool, prices both assets at 1.0, and has a
// lender supply 10_000 DEBT and a borrower supply 1_000 COLL then borrow 700 DEBT.
func lendingSetup(t *testing.T, c *core.DeterministicCore) (lender, borrower uuid.UUID) {
	t.Helper()
	lender, borrower = uuid.New(), uuid.New()

	mustProcess(t, c, mustPoolInitialized())
	mustProcess(t, c, mustPrice("COLL", 10_000_000, 1))
	mustProcess(t, c, mustPrice("DEBT", 10_000_000, 1))
	mustProcess(t, c, &event.Supply{UserAction: action(lender, "DEBT", 10_000, 0)})
	mustProcess(t, c, &event.Supply{UserAction: action(borrower, "COLL", 1_000, 0)})
	mustProcess(t, c, &event.Borrow{UserAction: action(borrower, "DEBT", 700, 1)})
	return lender, borrower
}

// ============================================================================
// Tests
// ============================================================================

func TestCore_ActionsBeforeInitialize(t *testing.T) {
	c, persistChan, _ := newTestCore(t)

	_, err := c.ProcessEvent(&event.Supply{UserAction: action(uuid.New(), "COLL", 1, 0)})
	if !errors.Is(err, state.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if c.GetSequence() != 1 {
		t.Errorf("rejected event must not take a sequence, got %d", c.GetSequence())
	}
	if len(persistChan) != 0 {
		t.Errorf("rejected event must not be persisted")
	}
}

func TestCore_InitializeTwiceRejected(t *testing.T) {
	c, _, _ := newTestCore(t)
	mustProcess(t, c, mustPoolInitialized())

	second := mustPoolInitialized()
	second.Config.Name = "other"
	second.Sequence = 1
	_, err := c.ProcessEvent(second)
	if !errors.Is(err, state.ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestCore_SupplyJournalsMatchReserveCash(t *testing.T) {
	c, persistChan, projChan := newTestCore(t)
	_, borrower := lendingSetup(t, c)

	// init + 2 prices + 3 actions
	if len(persistChan) != 6 || len(projChan) != 6 {
		t.Fatalf("expected 6 outputs, got persist=%d proj=%d", len(persistChan), len(projChan))
	}

	r, err := c.Reserve("DEBT")
	if err != nil {
		t.Fatal(err)
	}
	if r.Cash != 9_300*oneToken {
		t.Errorf("DEBT cash: got %d, want %d", r.Cash, 9_300*oneToken)
	}

	cash, err := c.LedgerBalance("system:reserve_cash:DEBT")
	if err != nil {
		t.Fatal(err)
	}
	if cash != r.Cash {
		t.Errorf("ledger cash %d != reserve cash %d", cash, r.Cash)
	}

	wallet, _ := c.LedgerBalance("user:" + borrower.String() + ":wallet:DEBT")
	if wallet != 700*oneToken {
		t.Errorf("borrower wallet: got %d, want %d", wallet, 700*oneToken)
	}
}

func TestCore_DuplicateSkipped(t *testing.T) {
	c, _, _ := newTestCore(t)
	mustProcess(t, c, mustPoolInitialized())

	supply := &event.Supply{UserAction: action(uuid.New(), "COLL", 5, 0)}
	mustProcess(t, c, supply)
	seq := c.GetSequence()

	out, err := c.ProcessEvent(supply)
	if err != nil || out != nil {
		t.Fatalf("duplicate should be skipped silently, got out=%v err=%v", out, err)
	}
	if c.GetSequence() != seq {
		t.Errorf("duplicate advanced sequence")
	}
}

func TestCore_SequenceGapAndRejectedRetry(t *testing.T) {
	c, _, _ := newTestCore(t)
	_, borrower := lendingSetup(t, c)

	// Gap: borrower's next sequence is 2.
	_, err := c.ProcessEvent(&event.Repay{UserAction: action(borrower, "DEBT", 1, 5)})
	if !errors.Is(err, core.ErrSequence) {
		t.Fatalf("expected ErrSequence, got %v", err)
	}

	// Unsafe borrow is rejected and leaves sequence 2 available.
	_, err = c.ProcessEvent(&event.Borrow{UserAction: action(borrower, "DEBT", 100, 2)})
	if !errors.Is(err, state.ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
	mustProcess(t, c, &event.Repay{UserAction: action(borrower, "DEBT", 100, 2)})
}

func TestCore_StalePriceSequenceIgnored(t *testing.T) {
	c, _, _ := newTestCore(t)
	mustProcess(t, c, mustPoolInitialized())
	mustProcess(t, c, mustPrice("COLL", 10_000_000, 5))

	out, err := c.ProcessEvent(mustPrice("COLL", 20_000_000, 3))
	if err != nil || out != nil {
		t.Fatalf("older price should be ignored, got out=%v err=%v", out, err)
	}
	p, err := c.Price("COLL")
	if err != nil {
		t.Fatal(err)
	}
	if p.Price != oneToken {
		t.Errorf("price overwritten by stale update: %d", p.Price)
	}

	// Gaps are fine.
	mustProcess(t, c, mustPrice("COLL", 11_000_000, 9))
}

func TestCore_LiquidationWithPriceDrop(t *testing.T) {
	c, persistChan, _ := newTestCore(t)
	_, borrower := lendingSetup(t, c)
	liquidator := uuid.New()

	mustProcess(t, c, mustPrice("COLL", 9_000_000, 2))

	health, err := c.HealthCheck(borrower, baseTs+10)
	if err != nil {
		t.Fatal(err)
	}
	if health.Healthy {
		t.Fatalf("borrower should be unhealthy after price drop: %+v", health)
	}

	out := mustProcess(t, c, &event.Liquidate{
		LiquidationID:   uuid.New(),
		LiquidatorID:    liquidator,
		BorrowerID:      borrower,
		LiabilityAsset:  "DEBT",
		CollateralAsset: "COLL",
		Amount:          100 * oneToken,
		Sequence:        0,
		Timestamp:       baseTs + 10,
	})
	if out.Receipt == nil || out.Receipt.Liquidation == nil {
		t.Fatal("liquidation receipt missing")
	}
	if len(out.Batch.Journals) == 0 {
		t.Fatal("liquidation must journal the repay")
	}

	after, err := c.HealthCheck(borrower, baseTs+10)
	if err != nil {
		t.Fatal(err)
	}
	if after.HealthFactor <= health.HealthFactor {
		t.Errorf("health factor did not improve: %d -> %d", health.HealthFactor, after.HealthFactor)
	}

	wallet, _ := c.LedgerBalance("user:" + liquidator.String() + ":wallet:DEBT")
	if wallet != -100*oneToken {
		t.Errorf("liquidator wallet: got %d, want %d", wallet, -100*oneToken)
	}

	positions, err := c.Positions(liquidator)
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 1 || positions[0].Asset != "COLL" || positions[0].SupplyShares == 0 {
		t.Errorf("liquidator should hold seized COLL shares: %+v", positions)
	}

	for len(persistChan) > 0 {
		o := <-persistChan
		if o.Envelope.Sequence <= 0 {
			t.Errorf("bad sequence %d", o.Envelope.Sequence)
		}
	}
}

func TestCore_HashChainDeterministic(t *testing.T) {
	events := func() []event.Event {
		lender := uuid.MustParse("00000000-0000-0000-0000-000000000001")
		id := uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
		return []event.Event{
			mustPoolInitialized(),
			mustPrice("DEBT", 10_000_000, 1),
			&event.Supply{UserAction: event.UserAction{
				ActionID: id, UserID: lender, Reserve: "DEBT", Amount: 42 * oneToken, Timestamp: baseTs + 1,
			}},
		}
	}

	a, _, _ := newTestCore(t)
	b, _, _ := newTestCore(t)
	for _, e := range events() {
		mustProcess(t, a, e)
	}
	for _, e := range events() {
		mustProcess(t, b, e)
	}

	if a.GetStateHash() != b.GetStateHash() {
		t.Error("identical event streams produced different state hashes")
	}
}

func TestCore_SnapshotRestoreAndReplay(t *testing.T) {
	src, persistChan, _ := newTestCore(t)
	_, borrower := lendingSetup(t, src)

	snap := src.CreateSnapshotState()

	mustProcess(t, src, &event.Repay{UserAction: action(borrower, "DEBT", 50, 2)})
	mustProcess(t, src, mustPrice("COLL", 10_500_000, 2))
	mustProcess(t, src, &event.ReserveAccrual{Reserve: "DEBT", Sequence: 0, Timestamp: baseTs + 3_000})

	var tail []*event.EventEnvelope
	for len(persistChan) > 0 {
		o := <-persistChan
		if o.Envelope.Sequence > snap.Sequence {
			tail = append(tail, o.Envelope)
		}
	}
	if len(tail) != 3 {
		t.Fatalf("expected 3 events after snapshot, got %d", len(tail))
	}

	dst, _, _ := newTestCore(t)
	if err := dst.RestoreFromSnapshot(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	for _, env := range tail {
		if err := dst.ReplayEvent(env); err != nil {
			t.Fatalf("replay: %v", err)
		}
	}

	if dst.GetStateHash() != src.GetStateHash() {
		t.Error("replayed core diverged from source")
	}
	if dst.GetSequence() != src.GetSequence() {
		t.Errorf("sequence: got %d, want %d", dst.GetSequence(), src.GetSequence())
	}

	if dst.Clock() != baseTs+3_000 {
		t.Errorf("clock: got %d, want %d", dst.Clock(), baseTs+3_000)
	}

	// Sequence state survives: the borrower's next action is 3.
	repay := &event.Repay{UserAction: action(borrower, "DEBT", 1, 3)}
	repay.Timestamp = baseTs + 3_000
	mustProcess(t, dst, repay)

	// Idempotency state survives: the old pool init is a duplicate.
	out, err := dst.ProcessEvent(mustPoolInitialized())
	if err != nil || out != nil {
		t.Errorf("restored core should dedup pool init, got out=%v err=%v", out, err)
	}
}

func TestCore_BackdatedEventRejected(t *testing.T) {
	c, _, _ := newTestCore(t)
	_, borrower := lendingSetup(t, c)
	seq := c.GetSequence()

	borrow := &event.Borrow{UserAction: action(borrower, "DEBT", 10, 2)}
	borrow.Timestamp = baseTs - 1_000_000
	_, err := c.ProcessEvent(borrow)
	if !errors.Is(err, state.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for a backdated borrow, got %v", err)
	}
	if c.GetSequence() != seq {
		t.Errorf("rejected event took a sequence")
	}

	// Same-second events are fine, and the partition sequence is still free.
	borrow.ActionID = uuid.New()
	borrow.Timestamp = baseTs + 10
	mustProcess(t, c, borrow)
}

func TestCore_FutureDatedEventRejected(t *testing.T) {
	c, _, _ := newTestCore(t)
	lender, borrower := lendingSetup(t, c)

	supply := &event.Supply{UserAction: action(lender, "DEBT", 1, 1)}
	supply.Timestamp = baseTs + 10*365*86_400
	_, err := c.ProcessEvent(supply)
	if !errors.Is(err, state.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for a future-dated supply, got %v", err)
	}

	r, err := c.Reserve("DEBT")
	if err != nil {
		t.Fatal(err)
	}
	if r.LastAccrual != baseTs+10 {
		t.Errorf("reserve accrued to %d", r.LastAccrual)
	}
	health, err := c.HealthCheck(borrower, baseTs+10)
	if err != nil {
		t.Fatal(err)
	}
	if !health.Healthy {
		t.Errorf("borrower should stay healthy: %+v", health)
	}

	// Within max price age of the newest quote is accepted.
	supply.ActionID = uuid.New()
	supply.Timestamp = baseTs + 1 + 3_600
	mustProcess(t, c, supply)
	if c.Clock() != baseTs+3_601 {
		t.Errorf("clock: got %d", c.Clock())
	}
}

func TestCore_EmissionConfigUpdate(t *testing.T) {
	c, _, _ := newTestCore(t)
	lender, borrower := lendingSetup(t, c)

	_, err := c.ProcessEvent(&event.EmissionConfigUpdate{
		UpdateID:  uuid.New(),
		Shares:    []state.EmissionShare{{Asset: "NOPE", Side: state.SideSupply, Share: 10_000_000}},
		Sequence:  1,
		Timestamp: baseTs + 10,
	})
	if !errors.Is(err, state.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for an unknown reserve, got %v", err)
	}

	shares := []state.EmissionShare{{Asset: "DEBT", Side: state.SideLiability, Share: 10_000_000}}
	out := mustProcess(t, c, &event.EmissionConfigUpdate{
		UpdateID:  uuid.New(),
		Shares:    shares,
		Sequence:  1,
		Timestamp: baseTs + 10,
	})
	if len(out.Batch.Journals) != 0 {
		t.Errorf("emission config should not journal")
	}
	got, err := c.EmissionShares()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != shares[0] {
		t.Errorf("emission shares: got %+v", got)
	}

	mustProcess(t, c, &event.EmissionDistribute{
		DistributionID: uuid.New(),
		Amount:         100 * oneToken,
		Sequence:       0,
		Timestamp:      baseTs + 10,
	})
	if r, _ := c.PendingRewards(borrower); r == 0 {
		t.Error("borrower should earn liability-side rewards")
	}
	if r, _ := c.PendingRewards(lender); r != 0 {
		t.Errorf("lender should earn nothing, got %d", r)
	}
}

func TestCore_BackstopFundIsStateOnly(t *testing.T) {
	c, _, _ := newTestCore(t)
	mustProcess(t, c, mustPoolInitialized())

	out := mustProcess(t, c, &event.BackstopFund{
		FundingID: uuid.New(),
		Reserve:   "DEBT",
		Amount:    500 * oneToken,
		Sequence:  1,
		Timestamp: baseTs,
	})
	if len(out.Batch.Journals) != 0 {
		t.Errorf("backstop funding should not journal")
	}
	if got := c.BackstopBalance("DEBT"); got != 500*oneToken {
		t.Errorf("backstop balance: got %d", got)
	}
	if _, ok := ledger.GetAssetID("DEBT"); !ok {
		t.Error("pool assets should be registered with the ledger")
	}
}

func TestCore_RunLoop(t *testing.T) {
	c, _, _ := newTestCore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan core.Request)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, in) }()

	submit := func(evt event.Event) core.Result {
		reply := make(chan core.Result, 1)
		in <- core.Request{Event: evt, Reply: reply}
		select {
		case r := <-reply:
			return r
		case <-time.After(5 * time.Second):
			t.Fatal("no reply from core")
			return core.Result{}
		}
	}

	if r := submit(mustPoolInitialized()); r.Err != nil || r.Output == nil {
		t.Fatalf("init: %+v", r)
	}
	r := submit(&event.Withdraw{UserAction: action(uuid.New(), "COLL", 1, 0)})
	if r.Err == nil {
		t.Fatal("withdraw with no position should be rejected")
	}

	close(in)
	if err := <-done; err != nil {
		t.Errorf("Run returned %v after input closed", err)
	}
}
