package state

import (
	"errors"
	"fmt"
	"math"

	fpmath "LendingPool/internal/math"
)

// ReserveLookup resolves a reserve by asset.
type ReserveLookup func(asset string) (*Reserve, bool)

// Change is a hypothetical share delta evaluated by HealthCheck.
type Change struct {
	Asset           string
	SupplyShares    int64
	LiabilityShares int64
}

// AccountHealth is the derived solvency view of one user.
// Values are in quote units scaled by Scalar7.
type AccountHealth struct {
	CollateralValue int64 `json:"collateral_value"` // Σ coll·cf·lt·price
	LiabilityValue  int64 `json:"liability_value"`  // Σ liab·lf·price
	HealthFactor    int64 `json:"health_factor"`    // Scalar7, MaxInt64 when debt-free
	Healthy         bool  `json:"healthy"`
}

// RiskEngine values positions at oracle prices and decides solvency.
type RiskEngine struct {
	oracle      Oracle
	maxPriceAge int64
}

func NewRiskEngine(oracle Oracle, maxPriceAge int64) *RiskEngine {
	return &RiskEngine{
		oracle:      oracle,
		maxPriceAge: maxPriceAge,
	}
}

// Price returns a usable quote for asset. Missing, invalid or stale quotes
// fail with ErrStalePrice.
func (re *RiskEngine) Price(asset string, now int64) (PriceData, error) {
	p, err := re.oracle.GetPrice(asset)
	if err != nil {
		return PriceData{}, fmt.Errorf("%w: %s: %v", ErrStalePrice, asset, err)
	}
	if p.Price <= 0 {
		return PriceData{}, fmt.Errorf("%w: %s has non-positive price %d", ErrStalePrice, asset, p.Price)
	}
	if now-p.Timestamp > re.maxPriceAge {
		return PriceData{}, fmt.Errorf("%w: %s price is %ds old (max %ds)",
			ErrStalePrice, asset, now-p.Timestamp, re.maxPriceAge)
	}
	return p, nil
}

// Value converts a token amount of r's asset into Scalar7 quote units.
func (re *RiskEngine) Value(r *Reserve, tokens int64, p PriceData, mode fpmath.RoundingMode) (int64, error) {
	tokenScale, err := fpmath.Pow10(r.Config.Decimals)
	if err != nil {
		return 0, err
	}
	priceScale, err := fpmath.Pow10(p.Decimals)
	if err != nil {
		return 0, err
	}
	return fpmath.MulDivN(
		[]int64{tokens, p.Price, fpmath.Scalar7},
		[]int64{tokenScale, priceScale},
		mode,
	)
}

type holding struct {
	asset     string
	supply    int64
	liability int64
	touched   bool // named by a proposed change
}

// mergeHoldings applies proposed deltas to the current snapshot, keeping reserve order
// for held assets and appending newly touched ones.
func mergeHoldings(positions []PositionSnapshot, proposed []Change) ([]holding, error) {
	out := make([]holding, 0, len(positions)+len(proposed))
	idx := make(map[string]int, len(positions)+len(proposed))
	for _, p := range positions {
		idx[p.Asset] = len(out)
		out = append(out, holding{asset: p.Asset, supply: p.SupplyShares, liability: p.LiabilityShares})
	}
	for _, c := range proposed {
		i, ok := idx[c.Asset]
		if !ok {
			i = len(out)
			idx[c.Asset] = i
			out = append(out, holding{asset: c.Asset})
		}
		s, err := fpmath.Add(out[i].supply, c.SupplyShares)
		if err != nil {
			return nil, err
		}
		l, err := fpmath.Add(out[i].liability, c.LiabilityShares)
		if err != nil {
			return nil, err
		}
		if s < 0 || l < 0 {
			return nil, fmt.Errorf("%w: proposed change leaves negative shares in %s", ErrInvalidInput, c.Asset)
		}
		out[i].supply, out[i].liability = s, l
		out[i].touched = true
	}
	return out, nil
}

// HealthCheck values the user's positions plus the proposed deltas at current
// indices and prices. Healthy iff weighted collateral covers weighted liabilities.
// Every held or touched reserve must have a usable price, debt or not.
func (re *RiskEngine) HealthCheck(
	positions []PositionSnapshot,
	proposed []Change,
	lookup ReserveLookup,
	now int64,
) (AccountHealth, error) {
	holdings, err := mergeHoldings(positions, proposed)
	if err != nil {
		return AccountHealth{}, err
	}

	var health AccountHealth
	for _, h := range holdings {
		if h.supply == 0 && h.liability == 0 && !h.touched {
			continue
		}
		r, ok := lookup(h.asset)
		if !ok {
			return AccountHealth{}, fmt.Errorf("%w: unknown reserve %s", ErrInvalidInput, h.asset)
		}
		price, err := re.Price(h.asset, now)
		if err != nil {
			return AccountHealth{}, err
		}
		weight, err := fpmath.Mul7(r.Config.CollateralFactor, r.Config.LiquidationThreshold, fpmath.RoundDown)
		if err != nil {
			return AccountHealth{}, err
		}

		if h.supply > 0 && weight > 0 {
			tokens, err := r.SupplySharesToTokens(h.supply, fpmath.RoundDown)
			if err != nil {
				return AccountHealth{}, err
			}
			value, err := re.Value(r, tokens, price, fpmath.RoundDown)
			if err != nil {
				return AccountHealth{}, err
			}
			weighted, err := fpmath.Mul7(value, weight, fpmath.RoundDown)
			if err != nil {
				return AccountHealth{}, err
			}
			if health.CollateralValue, err = fpmath.Add(health.CollateralValue, weighted); err != nil {
				return AccountHealth{}, err
			}
		}

		if h.liability > 0 {
			tokens, err := r.LiabilitySharesToTokens(h.liability, fpmath.RoundUp)
			if err != nil {
				return AccountHealth{}, err
			}
			value, err := re.Value(r, tokens, price, fpmath.RoundUp)
			if err != nil {
				return AccountHealth{}, err
			}
			weighted, err := fpmath.Mul7(value, r.Config.LiabilityFactor, fpmath.RoundUp)
			if err != nil {
				return AccountHealth{}, err
			}
			if health.LiabilityValue, err = fpmath.Add(health.LiabilityValue, weighted); err != nil {
				return AccountHealth{}, err
			}
		}
	}

	health.Healthy = health.CollateralValue >= health.LiabilityValue
	health.HealthFactor, err = healthFactor(health.CollateralValue, health.LiabilityValue)
	if err != nil {
		return AccountHealth{}, err
	}
	return health, nil
}

func healthFactor(collateral, liability int64) (int64, error) {
	if liability == 0 {
		return math.MaxInt64, nil
	}
	hf, err := fpmath.Div7(collateral, liability, fpmath.RoundDown)
	if errors.Is(err, fpmath.ErrOverflow) {
		return math.MaxInt64, nil
	}
	return hf, err
}
