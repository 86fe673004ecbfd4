package state

import (
	"math"
	"testing"

	fpmath "LendingPool/internal/math"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func riskFixture(t *testing.T) (*RiskEngine, *PriceFeed, ReserveLookup) {
	t.Helper()
	feed := NewPriceFeed()
	require.NoError(t, feed.Update("A", price(1, testNow)))
	require.NoError(t, feed.Update("B", price(1, testNow)))
	a := NewReserve(0, testReserveConfig("A"), testNow)
	b := NewReserve(1, testReserveConfig("B"), testNow)
	return NewRiskEngine(feed, 3_600), feed, lookupFrom(a, b)
}

func TestHealthCheck_BorrowAgainstWeightedCollateral(t *testing.T) {
	re, _, lookup := riskFixture(t)
	positions := []PositionSnapshot{{Asset: "A", SupplyShares: 1_000 * oneToken}}

	// 1000 * 0.8 * 0.9 = 720 < 750
	h, err := re.HealthCheck(positions, []Change{{Asset: "B", LiabilityShares: 750 * oneToken}}, lookup, testNow)
	require.NoError(t, err)
	assert.False(t, h.Healthy)
	assert.Equal(t, 720*oneToken, h.CollateralValue)
	assert.Equal(t, 750*oneToken, h.LiabilityValue)

	h, err = re.HealthCheck(positions, []Change{{Asset: "B", LiabilityShares: 700 * oneToken}}, lookup, testNow)
	require.NoError(t, err)
	assert.True(t, h.Healthy)
	assert.Greater(t, h.HealthFactor, int64(10_000_000))
}

func TestHealthCheck_DebtFreeStillPriced(t *testing.T) {
	re, _, lookup := riskFixture(t)
	positions := []PositionSnapshot{{Asset: "A", SupplyShares: oneToken}}

	h, err := re.HealthCheck(positions, nil, lookup, testNow)
	require.NoError(t, err)
	assert.True(t, h.Healthy)
	assert.Equal(t, int64(math.MaxInt64), h.HealthFactor)

	_, err = re.HealthCheck(positions, nil, lookup, testNow+3_601)
	assert.ErrorIs(t, err, ErrStalePrice)

	// Withdrawing the whole position still prices the reserve it leaves.
	_, err = re.HealthCheck(positions, []Change{{Asset: "A", SupplyShares: -oneToken}}, lookup, testNow+3_601)
	assert.ErrorIs(t, err, ErrStalePrice)
}

func TestHealthCheck_StalePrice(t *testing.T) {
	re, _, lookup := riskFixture(t)
	positions := []PositionSnapshot{
		{Asset: "A", SupplyShares: 1_000 * oneToken},
		{Asset: "B", LiabilityShares: 100 * oneToken},
	}

	_, err := re.HealthCheck(positions, nil, lookup, testNow+3_601)
	assert.ErrorIs(t, err, ErrStalePrice)
	assert.Equal(t, KindRetryable, Classify(err))

	_, err = re.HealthCheck(positions, nil, lookup, testNow+3_600)
	assert.NoError(t, err)
}

func TestHealthCheck_MissingPriceIsStale(t *testing.T) {
	feed := NewPriceFeed()
	re := NewRiskEngine(feed, 3_600)
	a := NewReserve(0, testReserveConfig("A"), testNow)

	_, err := re.HealthCheck([]PositionSnapshot{{Asset: "A", LiabilityShares: 1}}, nil, lookupFrom(a), testNow)
	assert.ErrorIs(t, err, ErrStalePrice)
}

func TestHealthCheck_NegativeProposal(t *testing.T) {
	re, _, lookup := riskFixture(t)

	_, err := re.HealthCheck(nil, []Change{{Asset: "A", SupplyShares: -1}}, lookup, testNow)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestValue_PriceAndTokenDecimals(t *testing.T) {
	re, _, _ := riskFixture(t)
	cfg := testReserveConfig("E")
	cfg.Decimals = 18
	r := NewReserve(2, cfg, testNow)

	// 2 tokens at 18 decimals priced 1500.25 with 2 price decimals
	v, err := re.Value(r, 2_000_000_000_000_000_000, PriceData{Price: 150_025, Decimals: 2}, fpmath.RoundDown)
	require.NoError(t, err)
	assert.Equal(t, int64(30_005_000_000), v)
}
