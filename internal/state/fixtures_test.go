package state

import (
	fpmath "LendingPool/internal/math"
)

const (
	testNow      int64 = 1_700_000_000
	testDecimals       = 7
	oneToken     int64 = 10_000_000 // 1 token at 7 decimals
)

func testReserveConfig(asset string) ReserveConfig {
	return ReserveConfig{
		Asset:                asset,
		Decimals:             testDecimals,
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

func testPoolConfig() PoolConfig {
	return PoolConfig{
		Name:                  "test-pool",
		MaxPriceAge:           3_600,
		FullCloseHealthFactor: 9_500_000,
		RewardAsset:           "RWD",
		Reserves:              []ReserveConfig{testReserveConfig("A"), testReserveConfig("B")},
		Emissions: []EmissionShare{
			{Asset: "A", Side: SideSupply, Share: 6_000_000},
			{Asset: "B", Side: SideLiability, Share: 4_000_000},
		},
	}
}

// price returns a 7-decimal quote.
func price(v float64, ts int64) PriceData {
	return PriceData{Price: int64(v * 1e7), Decimals: 7, Timestamp: ts}
}

func lookupFrom(reserves ...*Reserve) ReserveLookup {
	m := make(map[string]*Reserve, len(reserves))
	for _, r := range reserves {
		m[r.Asset] = r
	}
	return func(asset string) (*Reserve, bool) {
		r, ok := m[asset]
		return r, ok
	}
}
