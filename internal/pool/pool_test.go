package pool

import (
	"math/rand"
	"testing"

	fpmath "LendingPool/internal/math"
	"LendingPool/internal/state"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testNow  int64 = 1_700_000_000
	oneToken int64 = 10_000_000
)

type call struct {
	asset  string
	amount int64
}

type recordingBackstop struct {
	*state.InsuranceFund
	draws    []call
	deposits []call
}

func (b *recordingBackstop) Draw(asset string, amount int64) bool {
	b.draws = append(b.draws, call{asset, amount})
	return b.InsuranceFund.Draw(asset, amount)
}

func (b *recordingBackstop) DepositInterest(asset string, amount int64) {
	b.deposits = append(b.deposits, call{asset, amount})
	b.InsuranceFund.DepositInterest(asset, amount)
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

func poolConfig() state.PoolConfig {
	return state.PoolConfig{
		Name:                  "test-pool",
		MaxPriceAge:           3_600,
		FullCloseHealthFactor: 9_500_000,
		RewardAsset:           "RWD",
		Reserves:              []state.ReserveConfig{reserveConfig("A"), reserveConfig("B")},
		Emissions: []state.EmissionShare{
			{Asset: "A", Side: state.SideSupply, Share: 5_000_000},
			{Asset: "B", Side: state.SideLiability, Share: 5_000_000},
		},
	}
}

type fixture struct {
	pool     *Pool
	feed     *state.PriceFeed
	backstop *recordingBackstop
	lender   uuid.UUID
}

func setPrice(t *testing.T, feed *state.PriceFeed, asset string, v float64, ts int64) {
	t.Helper()
	require.NoError(t, feed.Update(asset, state.PriceData{Price: int64(v * 1e7), Decimals: 7, Timestamp: ts}))
}

// newFixture returns an initialized pool with 10_000 B of lender liquidity.
func newFixture(t *testing.T, backstopB int64) *fixture {
	t.Helper()
	f := &fixture{
		feed:     state.NewPriceFeed(),
		backstop: &recordingBackstop{InsuranceFund: state.NewInsuranceFund(map[string]int64{"B": backstopB})},
		lender:   uuid.New(),
	}
	setPrice(t, f.feed, "A", 1, testNow)
	setPrice(t, f.feed, "B", 1, testNow)
	f.pool = New(f.feed, f.backstop)
	require.NoError(t, f.pool.Initialize(poolConfig(), testNow))

	_, err := f.pool.Supply(f.lender, "B", 10_000*oneToken, testNow)
	require.NoError(t, err)
	return f
}

// borrower supplies 1000 A and borrows 700 B.
func (f *fixture) borrower(t *testing.T) uuid.UUID {
	t.Helper()
	user := uuid.New()
	_, err := f.pool.Supply(user, "A", 1_000*oneToken, testNow)
	require.NoError(t, err)
	_, err = f.pool.Borrow(user, "B", 700*oneToken, testNow)
	require.NoError(t, err)
	return user
}

func TestInitialize_Once(t *testing.T) {
	p := New(state.NewPriceFeed(), state.NewInsuranceFund(nil))

	_, err := p.Supply(uuid.New(), "A", 1, testNow)
	assert.ErrorIs(t, err, state.ErrNotInitialized)
	_, err = p.HealthCheck(uuid.New(), testNow)
	assert.ErrorIs(t, err, state.ErrNotInitialized)

	require.NoError(t, p.Initialize(poolConfig(), testNow))
	assert.ErrorIs(t, p.Initialize(poolConfig(), testNow), state.ErrAlreadyInitialized)
	assert.Equal(t, []string{"A", "B"}, p.Assets())
}

func TestInitialize_InvalidConfig(t *testing.T) {
	p := New(state.NewPriceFeed(), state.NewInsuranceFund(nil))
	cfg := poolConfig()
	cfg.Reserves[0].Kink = 0

	assert.ErrorIs(t, p.Initialize(cfg, testNow), state.ErrInvalidInput)
	assert.False(t, p.Initialized())
}

func TestBorrow_AdmissionAgainstWeightedCollateral(t *testing.T) {
	f := newFixture(t, 0)
	user := uuid.New()
	_, err := f.pool.Supply(user, "A", 1_000*oneToken, testNow)
	require.NoError(t, err)

	before, _ := f.pool.Reserve("B")
	_, err = f.pool.Borrow(user, "B", 750*oneToken, testNow)
	assert.ErrorIs(t, err, state.ErrInsufficientCollateral)

	// Rejection leaves no trace.
	after, _ := f.pool.Reserve("B")
	assert.Equal(t, before, after)
	_, ok := f.pool.Position(user, "B")
	assert.False(t, ok)

	rc, err := f.pool.Borrow(user, "B", 700*oneToken, testNow)
	require.NoError(t, err)
	assert.Equal(t, 700*oneToken, rc.Shares)
	require.Len(t, rc.Transfers, 1)
	assert.Equal(t, PurposeBorrow, rc.Transfers[0].Purpose)

	h, err := f.pool.HealthCheck(user, testNow)
	require.NoError(t, err)
	assert.True(t, h.Healthy)
}

func TestAdmittedActionsNeverLeaveUserUnhealthy(t *testing.T) {
	f := newFixture(t, 0)
	user := uuid.New()
	_, err := f.pool.Supply(user, "A", 1_000*oneToken, testNow)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		amount := rng.Int63n(200*oneToken) + 1
		if rng.Intn(2) == 0 {
			_, err = f.pool.Borrow(user, "B", amount, testNow)
		} else {
			_, err = f.pool.Withdraw(user, "A", amount, testNow)
		}
		if err != nil {
			assert.Equal(t, state.KindRejected, state.Classify(err))
			continue
		}
		h, err := f.pool.HealthCheck(user, testNow)
		require.NoError(t, err)
		require.True(t, h.Healthy, "iteration %d left user unhealthy: %+v", i, h)
	}
}

func TestSupplyWithdraw_RoundTripExact(t *testing.T) {
	f := newFixture(t, 0)
	f.borrower(t)

	// Move the supply index off 1.0.
	later := testNow + fpmath.SecondsPerYear
	_, err := f.pool.Accrue("B", later)
	require.NoError(t, err)
	r, _ := f.pool.Reserve("B")
	require.Greater(t, r.SupplyIndex, fpmath.Scalar12)

	user := uuid.New()
	amount := int64(1_234_567_891)
	_, err = f.pool.Supply(user, "B", amount, later)
	require.NoError(t, err)

	rc, err := f.pool.Withdraw(user, "B", amount, later)
	require.NoError(t, err)
	assert.Equal(t, amount, rc.Amount)
	_, ok := f.pool.Position(user, "B")
	assert.False(t, ok)
}

func TestWithdraw_InsufficientLiquidity(t *testing.T) {
	f := newFixture(t, 0)
	f.borrower(t)

	_, err := f.pool.Withdraw(f.lender, "B", 9_500*oneToken, testNow)
	assert.ErrorIs(t, err, state.ErrInsufficientLiquidity)

	_, err = f.pool.Withdraw(f.lender, "B", 10_001*oneToken, testNow)
	assert.ErrorIs(t, err, state.ErrInvalidInput)
}

func TestStalePriceRejectsRiskChecks(t *testing.T) {
	f := newFixture(t, 0)
	user := f.borrower(t)
	stale := testNow + 3_601

	_, err := f.pool.Borrow(user, "B", oneToken, stale)
	assert.ErrorIs(t, err, state.ErrStalePrice)

	_, err = f.pool.Withdraw(user, "A", oneToken, stale)
	assert.ErrorIs(t, err, state.ErrStalePrice)

	_, err = f.pool.Liquidate(uuid.New(), user, "B", "A", oneToken, stale)
	assert.ErrorIs(t, err, state.ErrStalePrice)

	// A debt-free withdrawer is priced too.
	_, err = f.pool.Withdraw(f.lender, "B", oneToken, stale)
	assert.ErrorIs(t, err, state.ErrStalePrice)

	// Repay needs no price.
	_, err = f.pool.Repay(user, "B", oneToken, stale)
	assert.NoError(t, err)
}

func TestRepay_ClampsToOutstanding(t *testing.T) {
	f := newFixture(t, 0)
	user := f.borrower(t)

	rc, err := f.pool.Repay(user, "B", 1_000*oneToken, testNow)
	require.NoError(t, err)
	assert.Equal(t, 700*oneToken, rc.Amount)
	_, ok := f.pool.Position(user, "B")
	assert.False(t, ok)

	_, err = f.pool.Repay(user, "B", oneToken, testNow)
	assert.ErrorIs(t, err, state.ErrInvalidInput)
}

func TestLiquidate_PartialImprovesHealth(t *testing.T) {
	f := newFixture(t, 0)
	user := f.borrower(t)
	liquidator := uuid.New()
	setPrice(t, f.feed, "A", 0.95, testNow)

	pre, err := f.pool.HealthCheck(user, testNow)
	require.NoError(t, err)
	require.False(t, pre.Healthy)

	_, err = f.pool.Liquidate(liquidator, user, "B", "A", 400*oneToken, testNow)
	assert.ErrorIs(t, err, state.ErrExceedsCloseFactor)

	rc, err := f.pool.Liquidate(liquidator, user, "B", "A", 350*oneToken, testNow)
	require.NoError(t, err)
	require.NotNil(t, rc.Liquidation)
	assert.Equal(t, state.PhaseSettled, rc.Liquidation.Plan.Phase)
	assert.Greater(t, rc.Liquidation.PostHealth.HealthFactor, pre.HealthFactor)
	assert.Empty(t, f.backstop.draws)

	got, ok := f.pool.Position(liquidator, "A")
	require.True(t, ok)
	assert.Equal(t, rc.Liquidation.Plan.SeizeShares, got.SupplyShares)

	_, err = f.pool.Liquidate(liquidator, user, "B", "A", oneToken, testNow)
	assert.ErrorIs(t, err, state.ErrNotEligible)
}

func TestLiquidate_DeepUnderwaterDrawsExactShortfall(t *testing.T) {
	f := newFixture(t, 10_000*oneToken)
	user := f.borrower(t)
	setPrice(t, f.feed, "A", 0.5, testNow)

	rc, err := f.pool.Liquidate(uuid.New(), user, "B", "A", 700*oneToken, testNow)
	require.NoError(t, err)

	plan := rc.Liquidation.Plan
	assert.True(t, plan.DeepUnderwater)
	assert.True(t, plan.Capped)
	shortfall := 700*oneToken - plan.RepayAmount
	assert.Equal(t, int64(2_238_095_238), shortfall)

	require.Len(t, f.backstop.draws, 1)
	assert.Equal(t, call{"B", shortfall}, f.backstop.draws[0])
	require.Len(t, rc.Liquidation.Shortfall, 1)
	assert.True(t, rc.Liquidation.Shortfall[0].Covered)

	assert.Empty(t, f.pool.Positions(user))
	r, _ := f.pool.Reserve("B")
	assert.Equal(t, 10_000*oneToken, r.Cash)
	assert.Equal(t, int64(0), r.TotalLiabilityShares)
	assert.Equal(t, int64(0), r.BadDebt)
}

func TestLiquidate_BackstopShortRecordsBadDebt(t *testing.T) {
	f := newFixture(t, oneToken)
	user := f.borrower(t)
	setPrice(t, f.feed, "A", 0.5, testNow)

	rc, err := f.pool.Liquidate(uuid.New(), user, "B", "A", 700*oneToken, testNow)
	require.NoError(t, err)
	require.Len(t, rc.Liquidation.Shortfall, 1)
	assert.False(t, rc.Liquidation.Shortfall[0].Covered)

	r, _ := f.pool.Reserve("B")
	assert.Equal(t, int64(2_238_095_238), r.BadDebt)
	pos, ok := f.pool.Position(user, "B")
	require.True(t, ok)
	assert.Equal(t, int64(2_238_095_238), pos.LiabilityShares)
	assert.Equal(t, oneToken, f.backstop.Balance("B"))
}

func TestLiquidate_BadDebtRecordedOnce(t *testing.T) {
	f := newFixture(t, oneToken)
	user := f.borrower(t)
	setPrice(t, f.feed, "A", 0.5, testNow)

	_, err := f.pool.Liquidate(uuid.New(), user, "B", "A", 700*oneToken, testNow)
	require.NoError(t, err)
	r, _ := f.pool.Reserve("B")
	require.Equal(t, int64(2_238_095_238), r.BadDebt)

	for i := 0; i < 3; i++ {
		_, err = f.pool.Liquidate(uuid.New(), user, "B", "A", 1, testNow)
		assert.ErrorIs(t, err, state.ErrNotEligible)
	}
	r, _ = f.pool.Reserve("B")
	assert.Equal(t, int64(2_238_095_238), r.BadDebt)
	pos, ok := f.pool.Position(user, "B")
	require.True(t, ok)
	assert.Equal(t, pos.LiabilityShares, pos.WrittenOffShares)

	// A funded backstop absorbs the written-off debt on the next call.
	f.backstop.Fund("B", 10_000*oneToken)
	rc, err := f.pool.Liquidate(uuid.New(), user, "B", "A", 1, testNow)
	require.NoError(t, err)
	require.Len(t, rc.Liquidation.Shortfall, 1)
	assert.True(t, rc.Liquidation.Shortfall[0].Covered)
	assert.Zero(t, rc.Liquidation.Plan.RepayAmount)

	r, _ = f.pool.Reserve("B")
	assert.Equal(t, int64(0), r.BadDebt)
	assert.Equal(t, int64(0), r.TotalLiabilityShares)
	assert.Empty(t, f.pool.Positions(user))
}

func TestRepay_ReleasesWrittenOffDebt(t *testing.T) {
	f := newFixture(t, 0)
	user := f.borrower(t)
	setPrice(t, f.feed, "A", 0.5, testNow)

	_, err := f.pool.Liquidate(uuid.New(), user, "B", "A", 700*oneToken, testNow)
	require.NoError(t, err)

	_, err = f.pool.Repay(user, "B", 100*oneToken, testNow)
	require.NoError(t, err)

	r, _ := f.pool.Reserve("B")
	assert.Equal(t, int64(1_238_095_238), r.BadDebt)
	pos, ok := f.pool.Position(user, "B")
	require.True(t, ok)
	assert.Equal(t, int64(1_238_095_238), pos.WrittenOffShares)
}

func TestLiquidate_SelfRejected(t *testing.T) {
	f := newFixture(t, 0)
	user := f.borrower(t)

	_, err := f.pool.Liquidate(user, user, "B", "A", oneToken, testNow)
	assert.ErrorIs(t, err, state.ErrInvalidInput)
}

func TestReserveStatusPolicy(t *testing.T) {
	f := newFixture(t, 0)
	user := f.borrower(t)

	_, err := f.pool.SetReserveStatus("B", state.ReserveFrozen, testNow)
	require.NoError(t, err)
	_, err = f.pool.Borrow(user, "B", oneToken, testNow)
	assert.ErrorIs(t, err, state.ErrReserveNotActive)
	_, err = f.pool.Supply(user, "B", oneToken, testNow)
	assert.ErrorIs(t, err, state.ErrReserveNotActive)
	_, err = f.pool.Repay(user, "B", oneToken, testNow)
	assert.NoError(t, err)

	_, err = f.pool.SetReserveStatus("A", state.ReservePaused, testNow)
	require.NoError(t, err)
	_, err = f.pool.Withdraw(user, "A", oneToken, testNow)
	assert.ErrorIs(t, err, state.ErrReserveNotActive)
}

func TestFailedOperationDropsDeferredDeposits(t *testing.T) {
	f := newFixture(t, 0)
	f.borrower(t)

	later := testNow + fpmath.SecondsPerYear
	before, _ := f.pool.Reserve("B")

	_, err := f.pool.Withdraw(f.lender, "B", 20_000*oneToken, later)
	require.ErrorIs(t, err, state.ErrInvalidInput)
	assert.Empty(t, f.backstop.deposits)
	after, _ := f.pool.Reserve("B")
	assert.Equal(t, before, after)

	rc, err := f.pool.Accrue("B", later)
	require.NoError(t, err)
	require.Len(t, rc.Accruals, 1)
	require.Len(t, f.backstop.deposits, 1)
	assert.Equal(t, rc.Accruals[0].ProtocolRevenue, f.backstop.deposits[0].amount)

	r, _ := f.pool.Reserve("B")
	assert.GreaterOrEqual(t, r.LiabilityIndex, r.SupplyIndex)
	assert.Equal(t, int64(0), r.BackstopCredit)
}

func TestDistributeAndClaim(t *testing.T) {
	f := newFixture(t, 0)
	user := f.borrower(t)

	rc, err := f.pool.Distribute(1_400_000, testNow)
	require.NoError(t, err)
	require.NotNil(t, rc.Distribution)
	assert.Equal(t, int64(0), rc.Distribution.Undistributed)

	pending, err := f.pool.PendingRewards(user)
	require.NoError(t, err)
	// All of A's supply side plus all of B's liability side.
	assert.Equal(t, int64(1_400_000), pending)

	rc, err = f.pool.Claim(user, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1_400_000), rc.Rewards)
	require.Len(t, rc.Transfers, 1)
	assert.Equal(t, PurposeRewardClaim, rc.Transfers[0].Purpose)
	assert.Equal(t, "RWD", rc.Transfers[0].Asset)

	rc, err = f.pool.Claim(user, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rc.Rewards)
	assert.Empty(t, rc.Transfers)
}

func TestExportRestore(t *testing.T) {
	f := newFixture(t, 0)
	user := f.borrower(t)
	_, err := f.pool.Distribute(1_000, testNow)
	require.NoError(t, err)

	snap := f.pool.Export()
	restored, err := Restore(snap, f.feed, f.backstop)
	require.NoError(t, err)

	assert.Equal(t, snap, restored.Export())
	assert.Equal(t, f.pool.Positions(user), restored.Positions(user))

	_, err = restored.Borrow(user, "B", oneToken, testNow)
	assert.NoError(t, err)
}
