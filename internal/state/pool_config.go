package state

import (
	"fmt"

	fpmath "LendingPool/internal/math"
)

// ReserveConfig defines the risk and rate parameters of one reserve.
// Fractions and rates are Scalar7 (10_000_000 = 1.0).
type ReserveConfig struct {
	Asset    string `toml:"asset" json:"asset"`
	Decimals uint32 `toml:"decimals" json:"decimals"`

	CollateralFactor int64 `toml:"collateral_factor" json:"collateral_factor"`
	LiabilityFactor  int64 `toml:"liability_factor" json:"liability_factor"`
	ReserveFactor    int64 `toml:"reserve_factor" json:"reserve_factor"`

	// Rate curve (annual)
	BaseRate int64 `toml:"base_rate" json:"base_rate"`
	Slope1   int64 `toml:"slope1" json:"slope1"`
	Slope2   int64 `toml:"slope2" json:"slope2"`
	Kink     int64 `toml:"kink" json:"kink"`

	LiquidationThreshold int64 `toml:"liquidation_threshold" json:"liquidation_threshold"`
	LiquidationBonus     int64 `toml:"liquidation_bonus" json:"liquidation_bonus"`
	CloseFactor          int64 `toml:"close_factor" json:"close_factor"`

	SupplyCap int64 `toml:"supply_cap" json:"supply_cap"` // token units, 0 = uncapped
}

// RewardSide selects which share balance of a reserve earns emissions.
type RewardSide string

const (
	SideSupply    RewardSide = "supply"
	SideLiability RewardSide = "liability"
)

// EmissionShare routes a fraction of every distribution to one reserve side.
type EmissionShare struct {
	Asset string     `toml:"asset" json:"asset"`
	Side  RewardSide `toml:"side" json:"side"`
	Share int64      `toml:"share" json:"share"` // Scalar7
}

// PoolConfig is the one-time configuration passed to Initialize.
type PoolConfig struct {
	Name                  string          `toml:"name" json:"name"`
	MaxPriceAge           int64           `toml:"max_price_age" json:"max_price_age"`                       // seconds
	FullCloseHealthFactor int64           `toml:"full_close_health_factor" json:"full_close_health_factor"` // Scalar7
	RewardAsset           string          `toml:"reward_asset" json:"reward_asset"`
	Reserves              []ReserveConfig `toml:"reserves" json:"reserves"`
	Emissions             []EmissionShare `toml:"emissions" json:"emissions"`
}

// maxAnnualRate caps the rate curve at 10_000% APR.
const maxAnnualRate = 100 * fpmath.Scalar7

// ValidateReserveConfig checks that reserve parameters are within valid ranges.
func ValidateReserveConfig(c *ReserveConfig) error {
	if c.Asset == "" {
		return fmt.Errorf("asset must be set")
	}
	if c.Decimals > fpmath.MaxDecimals {
		return fmt.Errorf("decimals must be <= %d, got %d", fpmath.MaxDecimals, c.Decimals)
	}
	if c.CollateralFactor < 0 || c.CollateralFactor > fpmath.Scalar7 {
		return fmt.Errorf("collateral_factor must be in [0, 1e7], got %d", c.CollateralFactor)
	}
	if c.LiabilityFactor < fpmath.Scalar7 || c.LiabilityFactor > 10*fpmath.Scalar7 {
		return fmt.Errorf("liability_factor must be in [1e7, 1e8], got %d", c.LiabilityFactor)
	}
	if c.ReserveFactor < 0 || c.ReserveFactor >= fpmath.Scalar7 {
		return fmt.Errorf("reserve_factor must be in [0, 1e7), got %d", c.ReserveFactor)
	}
	if c.Kink <= 0 || c.Kink >= fpmath.Scalar7 {
		return fmt.Errorf("kink must be in (0, 1e7), got %d", c.Kink)
	}
	if c.BaseRate < 0 || c.Slope1 < 0 || c.Slope2 < 0 {
		return fmt.Errorf("rates must be >= 0")
	}
	if c.BaseRate+c.Slope1+c.Slope2 > maxAnnualRate {
		return fmt.Errorf("max rate (%d) exceeds %d", c.BaseRate+c.Slope1+c.Slope2, maxAnnualRate)
	}
	if c.LiquidationThreshold <= 0 || c.LiquidationThreshold > fpmath.Scalar7 {
		return fmt.Errorf("liquidation_threshold must be in (0, 1e7], got %d", c.LiquidationThreshold)
	}
	if c.LiquidationBonus < 0 || c.LiquidationBonus >= fpmath.Scalar7 {
		return fmt.Errorf("liquidation_bonus must be in [0, 1e7), got %d", c.LiquidationBonus)
	}
	if c.CloseFactor <= 0 || c.CloseFactor > fpmath.Scalar7 {
		return fmt.Errorf("close_factor must be in (0, 1e7], got %d", c.CloseFactor)
	}
	if c.SupplyCap < 0 {
		return fmt.Errorf("supply_cap must be >= 0, got %d", c.SupplyCap)
	}
	return nil
}

// ValidatePoolConfig checks pool-level parameters, every reserve and the
// emission shares.
func ValidatePoolConfig(c *PoolConfig) error {
	if c.Name == "" {
		return fmt.Errorf("%w: pool name must be set", ErrInvalidInput)
	}
	if c.MaxPriceAge <= 0 {
		return fmt.Errorf("%w: max_price_age must be > 0, got %d", ErrInvalidInput, c.MaxPriceAge)
	}
	if c.FullCloseHealthFactor <= 0 || c.FullCloseHealthFactor > fpmath.Scalar7 {
		return fmt.Errorf("%w: full_close_health_factor must be in (0, 1e7], got %d",
			ErrInvalidInput, c.FullCloseHealthFactor)
	}
	if len(c.Reserves) == 0 {
		return fmt.Errorf("%w: at least one reserve is required", ErrInvalidInput)
	}

	seen := make(map[string]bool, len(c.Reserves))
	for i := range c.Reserves {
		rc := &c.Reserves[i]
		if err := ValidateReserveConfig(rc); err != nil {
			return fmt.Errorf("%w: invalid reserve config for %s: %v", ErrInvalidInput, rc.Asset, err)
		}
		if seen[rc.Asset] {
			return fmt.Errorf("%w: duplicate reserve %s", ErrInvalidInput, rc.Asset)
		}
		seen[rc.Asset] = true
	}

	if len(c.Emissions) > 0 && c.RewardAsset == "" {
		return fmt.Errorf("%w: reward_asset must be set when emissions are configured", ErrInvalidInput)
	}
	if err := ValidateEmissionShares(c.Emissions, seen); err != nil {
		return err
	}
	return nil
}

// ValidateEmissionShares checks that every share targets a known reserve side
// and that the shares sum to at most 1.0.
func ValidateEmissionShares(shares []EmissionShare, reserves map[string]bool) error {
	var total int64
	seen := make(map[emissionKey]bool, len(shares))
	for _, s := range shares {
		if !reserves[s.Asset] {
			return fmt.Errorf("%w: emission share for unknown reserve %s", ErrInvalidInput, s.Asset)
		}
		if s.Side != SideSupply && s.Side != SideLiability {
			return fmt.Errorf("%w: emission side must be supply or liability, got %q", ErrInvalidInput, s.Side)
		}
		if s.Share < 0 || s.Share > fpmath.Scalar7 {
			return fmt.Errorf("%w: emission share must be in [0, 1e7], got %d", ErrInvalidInput, s.Share)
		}
		k := emissionKey{Asset: s.Asset, Side: s.Side}
		if seen[k] {
			return fmt.Errorf("%w: duplicate emission share %s/%s", ErrInvalidInput, s.Asset, s.Side)
		}
		seen[k] = true
		total += s.Share
	}
	if total > fpmath.Scalar7 {
		return fmt.Errorf("%w: emission shares sum to %d, exceeding 1e7", ErrInvalidInput, total)
	}
	return nil
}

// InterestModel returns the reserve's rate curve.
func (c ReserveConfig) InterestModel() InterestModel {
	return InterestModel{
		BaseRate: c.BaseRate,
		Slope1:   c.Slope1,
		Slope2:   c.Slope2,
		Kink:     c.Kink,
	}
}
