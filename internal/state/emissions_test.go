package state

import (
	"testing"

	fpmath "LendingPool/internal/math"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmissions_SetRejectsOverAllocation(t *testing.T) {
	e := NewEmissions(nil)
	reserves := map[string]bool{"A": true, "B": true}

	err := e.SetEmissions([]EmissionShare{
		{Asset: "A", Side: SideSupply, Share: 6_000_000},
		{Asset: "B", Side: SideSupply, Share: 5_000_000},
	}, reserves)
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = e.SetEmissions([]EmissionShare{{Asset: "C", Side: SideSupply, Share: 1}}, reserves)
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, e.SetEmissions([]EmissionShare{{Asset: "A", Side: SideLiability, Share: fpmath.Scalar7}}, reserves))
	assert.Len(t, e.Shares(), 1)
}

func TestEmissions_DistributeAndClaim(t *testing.T) {
	cfg := testPoolConfig()
	e := NewEmissions(cfg.Emissions)
	a := NewReserve(0, testReserveConfig("A"), testNow)
	b := NewReserve(1, testReserveConfig("B"), testNow)
	lookup := lookupFrom(a, b)

	pl := NewPositionLedger()
	alice, bob := uuid.New(), uuid.New()
	_, err := pl.Adjust(alice, a, 300, 0)
	require.NoError(t, err)
	_, err = pl.Adjust(bob, a, 100, 0)
	require.NoError(t, err)
	a.TotalSupplyShares = 400

	// B has no borrowers, so its 40% is undistributed.
	res, err := e.Distribute(1_000, lookup)
	require.NoError(t, err)
	assert.Equal(t, int64(400), res.Undistributed)
	assert.Equal(t, int64(400), e.Undistributed())
	assert.Equal(t, int64(600), e.Distributed())
	require.Len(t, res.Allocations, 1)
	assert.Equal(t, fpmath.Scalar12*600/400, a.SupplyRewardIndex)

	aliceTotal, err := e.Claim(pl.UserPositions(alice), lookup)
	require.NoError(t, err)
	assert.Equal(t, int64(450), aliceTotal)

	bobTotal, err := e.Claim(pl.UserPositions(bob), lookup)
	require.NoError(t, err)
	assert.Equal(t, int64(150), bobTotal)

	// Claiming twice yields nothing.
	again, err := e.Claim(pl.UserPositions(alice), lookup)
	require.NoError(t, err)
	assert.Equal(t, int64(0), again)
}

func TestEmissions_NewPositionStartsAtCurrentIndex(t *testing.T) {
	e := NewEmissions([]EmissionShare{{Asset: "A", Side: SideSupply, Share: fpmath.Scalar7}})
	a := NewReserve(0, testReserveConfig("A"), testNow)
	lookup := lookupFrom(a)
	pl := NewPositionLedger()

	early := uuid.New()
	_, err := pl.Adjust(early, a, 100, 0)
	require.NoError(t, err)
	a.TotalSupplyShares = 100

	_, err = e.Distribute(1_000, lookup)
	require.NoError(t, err)

	late := uuid.New()
	p := pl.Ensure(late, a)
	require.NoError(t, Checkpoint(p, a))
	_, err = pl.Adjust(late, a, 100, 0)
	require.NoError(t, err)

	got, err := e.Claim(pl.UserPositions(late), lookup)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)

	got, err = e.Claim(pl.UserPositions(early), lookup)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), got)
}

func TestEmissions_RejectsNonPositive(t *testing.T) {
	e := NewEmissions(nil)
	_, err := e.Distribute(0, lookupFrom())
	assert.ErrorIs(t, err, ErrInvalidInput)
}
