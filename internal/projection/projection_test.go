package projection_test

import (
	"context"
	"testing"

	"LendingPool/internal/core"
	"LendingPool/internal/event"
	"LendingPool/internal/persistence"
	"LendingPool/internal/projection"
	"LendingPool/internal/query"
	"LendingPool/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectionsFromLiquidation_Integration(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, persistence.NewMigrator(db, testutil.MigrationsDir()).Up(ctx))

	projChan := make(chan core.CoreOutput, 64)
	c, err := core.NewDeterministicCore(1, nil, projChan, nil, 128, nil)
	require.NoError(t, err)

	ts := testutil.BaseTime
	lender, borrower, liquidator := uuid.New(), uuid.New(), uuid.New()
	action := func(user uuid.UUID, asset string, tokens, seq int64) event.UserAction {
		return event.UserAction{
			ActionID: uuid.New(), UserID: user, Reserve: asset,
			Amount: tokens * testutil.OneToken, Sequence: seq, Timestamp: ts,
		}
	}
	price := func(asset string, p, seq int64) *event.PriceUpdate {
		return &event.PriceUpdate{Reserve: asset, Price: p, Decimals: 7, PriceSequence: seq, PriceTimestamp: ts}
	}

	events := []event.Event{
		&event.PoolInitialized{Config: testutil.PoolConfig("projections"), Timestamp: ts},
		price("COLL", 10_000_000, 1),
		price("DEBT", 10_000_000, 1),
		&event.Supply{UserAction: action(lender, "DEBT", 10_000, 0)},
		&event.Supply{UserAction: action(borrower, "COLL", 1_000, 0)},
		&event.Borrow{UserAction: action(borrower, "DEBT", 700, 1)},
		price("COLL", 9_000_000, 2),
		&event.Liquidate{
			LiquidationID: uuid.New(), LiquidatorID: liquidator, BorrowerID: borrower,
			LiabilityAsset: "DEBT", CollateralAsset: "COLL",
			Amount: 100 * testutil.OneToken, Sequence: 0, Timestamp: ts,
		},
	}
	for _, evt := range events {
		_, err := c.ProcessEvent(evt)
		require.NoError(t, err, evt.EventType().String())
	}
	close(projChan)

	worker := projection.NewProjectionWorker(db, projChan, nil)
	require.NoError(t, worker.Run(ctx))

	qs := query.NewQueryService(db, nil)

	reserve, err := qs.GetReserve(ctx, "DEBT")
	require.NoError(t, err)
	assert.Equal(t, int64(8), reserve.AsOfSequence)
	assert.Equal(t, "9400", reserve.Cash)
	assert.NotEqual(t, "0", reserve.BorrowAPR)
	assert.NotEqual(t, "0", reserve.SupplyAPR)

	_, err = qs.GetReserve(ctx, "NOPE")
	assert.ErrorIs(t, err, query.ErrNotFound)

	reserves, err := qs.ListReserves(ctx)
	require.NoError(t, err)
	require.Len(t, reserves, 2)
	assert.Equal(t, "COLL", reserves[0].Asset)
	assert.Equal(t, "0", reserves[0].SupplyAPR)

	positions, err := qs.GetPositions(ctx, liquidator)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "COLL", positions[0].Asset)

	balances, err := qs.GetBalances(ctx, liquidator)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "-100", balances[0].Balance)

	liqs, err := qs.GetLiquidations(ctx, borrower, 10, nil)
	require.NoError(t, err)
	require.Len(t, liqs, 1)
	assert.Equal(t, int64(100*testutil.OneToken), liqs[0].RepayAmount)

	report, err := qs.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsHealthy)
}
