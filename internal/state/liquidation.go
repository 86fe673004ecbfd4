// internal/state/liquidation.go
package state

import (
	"fmt"

	fpmath "LendingPool/internal/math"

	"github.com/google/uuid"
)

// LiquidationPhase tracks progress through a single liquidation call.
// Nothing persists across calls.
type LiquidationPhase int32

const (
	PhaseEligibility LiquidationPhase = iota
	PhaseSizing
	PhaseSeizure
	PhaseShortfall
	PhaseSettled
)

func (lp LiquidationPhase) String() string {
	switch lp {
	case PhaseEligibility:
		return "Eligibility"
	case PhaseSizing:
		return "Sizing"
	case PhaseSeizure:
		return "Seizure"
	case PhaseShortfall:
		return "Shortfall"
	case PhaseSettled:
		return "Settled"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates phase transitions
func (lp LiquidationPhase) CanTransitionTo(next LiquidationPhase) bool {
	validTransitions := map[LiquidationPhase][]LiquidationPhase{
		PhaseEligibility: {
			PhaseSizing,
		},
		PhaseSizing: {
			PhaseSeizure,
		},
		PhaseSeizure: {
			PhaseShortfall,
			PhaseSettled,
		},
		PhaseShortfall: {
			PhaseSettled,
		},
	}

	allowed, ok := validTransitions[lp]
	if !ok {
		return false
	}

	for _, allowedPhase := range allowed {
		if next == allowedPhase {
			return true
		}
	}

	return false
}

type LiquidationRequest struct {
	Liquidator      uuid.UUID
	Borrower        uuid.UUID
	LiabilityAsset  string
	CollateralAsset string
	Amount          int64 // liability tokens offered by the liquidator
}

// LiquidationPlan is the sized outcome of eligibility, sizing and seizure.
type LiquidationPlan struct {
	Phase LiquidationPhase `json:"phase"`

	PreHealth      AccountHealth `json:"pre_health"`
	DeepUnderwater bool          `json:"deep_underwater"`

	Outstanding int64 `json:"outstanding"` // borrower debt in the liability reserve, tokens
	RepayAmount int64 `json:"repay_amount"`
	RepayShares int64 `json:"repay_shares"`
	SeizeTokens int64 `json:"seize_tokens"`
	SeizeShares int64 `json:"seize_shares"`
	Capped      bool  `json:"capped"` // seizure hit the borrower's collateral balance
}

func (p *LiquidationPlan) advance(next LiquidationPhase) error {
	if !p.Phase.CanTransitionTo(next) {
		return fmt.Errorf("invalid liquidation transition: %s -> %s", p.Phase, next)
	}
	p.Phase = next
	return nil
}

// LiquidationEngine sizes liquidations against the risk engine.
type LiquidationEngine struct {
	risk        *RiskEngine
	fullCloseHF int64
}

func NewLiquidationEngine(risk *RiskEngine, fullCloseHealthFactor int64) *LiquidationEngine {
	return &LiquidationEngine{
		risk:        risk,
		fullCloseHF: fullCloseHealthFactor,
	}
}

// Plan runs the eligibility, sizing and seizure phases. It does not mutate state.
func (le *LiquidationEngine) Plan(
	req LiquidationRequest,
	borrower []PositionSnapshot,
	lookup ReserveLookup,
	now int64,
) (*LiquidationPlan, error) {
	plan := &LiquidationPlan{Phase: PhaseEligibility}

	liabReserve, ok := lookup(req.LiabilityAsset)
	if !ok {
		return nil, fmt.Errorf("%w: unknown reserve %s", ErrInvalidInput, req.LiabilityAsset)
	}
	collReserve, ok := lookup(req.CollateralAsset)
	if !ok {
		return nil, fmt.Errorf("%w: unknown reserve %s", ErrInvalidInput, req.CollateralAsset)
	}

	var liabShares, collShares int64
	hasOtherCollateral := false
	for _, p := range borrower {
		if p.Asset == req.LiabilityAsset {
			liabShares = p.LiabilityShares
		}
		if p.Asset == req.CollateralAsset {
			collShares = p.SupplyShares
		} else if p.SupplyShares > 0 {
			hasOtherCollateral = true
		}
	}

	// Eligibility
	health, err := le.risk.HealthCheck(borrower, nil, lookup, now)
	if err != nil {
		return nil, err
	}
	if health.Healthy {
		return nil, fmt.Errorf("%w: health factor %d", ErrNotEligible, health.HealthFactor)
	}
	plan.PreHealth = health
	plan.DeepUnderwater = health.HealthFactor < le.fullCloseHF
	if err := plan.advance(PhaseSizing); err != nil {
		return nil, err
	}

	// Sizing
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: repay amount must be > 0", ErrInvalidInput)
	}
	if liabShares == 0 {
		return nil, fmt.Errorf("%w: borrower has no liability in %s", ErrInvalidInput, req.LiabilityAsset)
	}
	outstanding, err := liabReserve.LiabilitySharesToTokens(liabShares, fpmath.RoundUp)
	if err != nil {
		return nil, err
	}
	plan.Outstanding = outstanding
	if req.Amount > outstanding {
		return nil, fmt.Errorf("%w: repay %d exceeds outstanding %d", ErrInvalidInput, req.Amount, outstanding)
	}
	if !plan.DeepUnderwater {
		maxRepay, err := fpmath.Mul7(outstanding, liabReserve.Config.CloseFactor, fpmath.RoundUp)
		if err != nil {
			return nil, err
		}
		if req.Amount > maxRepay {
			return nil, fmt.Errorf("%w: repay %d exceeds %d", ErrExceedsCloseFactor, req.Amount, maxRepay)
		}
	}
	if err := plan.advance(PhaseSeizure); err != nil {
		return nil, err
	}

	// Seizure
	if collShares == 0 {
		if hasOtherCollateral {
			return nil, fmt.Errorf("%w: borrower has no collateral in %s", ErrInvalidInput, req.CollateralAsset)
		}
		// Nothing left to seize anywhere; only the shortfall remains.
		return plan, nil
	}

	liabPrice, err := le.risk.Price(req.LiabilityAsset, now)
	if err != nil {
		return nil, err
	}
	collPrice, err := le.risk.Price(req.CollateralAsset, now)
	if err != nil {
		return nil, err
	}
	conv, err := newSeizeConversion(liabReserve, collReserve, liabPrice, collPrice)
	if err != nil {
		return nil, err
	}

	amount := req.Amount
	seizeTokens, err := conv.seizeFor(amount)
	if err != nil {
		return nil, err
	}
	seizeShares, err := collReserve.SupplyTokensToShares(seizeTokens, fpmath.RoundDown)
	if err != nil {
		return nil, err
	}

	if seizeShares > collShares {
		plan.Capped = true
		seizeShares = collShares
	}
	if seizeTokens, err = collReserve.SupplySharesToTokens(seizeShares, fpmath.RoundDown); err != nil {
		return nil, err
	}
	if plan.Capped {
		scaled, err := conv.repayFor(seizeTokens)
		if err != nil {
			return nil, err
		}
		amount = fpmath.Min(scaled, amount)
	}

	repayShares := liabShares
	if amount < outstanding {
		if repayShares, err = liabReserve.LiabilityTokensToShares(amount, fpmath.RoundDown); err != nil {
			return nil, err
		}
		repayShares = fpmath.Min(repayShares, liabShares)
	}
	if amount > 0 && repayShares == 0 && seizeShares == 0 {
		return nil, fmt.Errorf("%w: repay amount %d is below one share", ErrInvalidInput, amount)
	}

	plan.RepayAmount = amount
	plan.RepayShares = repayShares
	plan.SeizeTokens = seizeTokens
	plan.SeizeShares = seizeShares
	return plan, nil
}

// Settle runs the post-state checks. The borrower's health factor must strictly
// improve unless their collateral or debt is fully closed out. It reports
// whether the shortfall phase applies.
func (le *LiquidationEngine) Settle(
	plan *LiquidationPlan,
	post AccountHealth,
	collateralLeft bool,
	liabilityLeft bool,
) (shortfall bool, err error) {
	if collateralLeft && liabilityLeft && post.HealthFactor <= plan.PreHealth.HealthFactor {
		return false, fmt.Errorf("%w: liquidation would not improve health factor (%d -> %d)",
			ErrInvalidInput, plan.PreHealth.HealthFactor, post.HealthFactor)
	}
	if !collateralLeft && liabilityLeft {
		if err := plan.advance(PhaseShortfall); err != nil {
			return false, err
		}
		shortfall = true
	}
	if err := plan.advance(PhaseSettled); err != nil {
		return false, err
	}
	return shortfall, nil
}

// seizeConversion converts between liability tokens repaid and collateral
// tokens seized at a fixed pair of prices and the collateral reserve's bonus.
type seizeConversion struct {
	liabScale, liabPriceScale int64
	collScale, collPriceScale int64
	liabPrice, collPrice      int64
	bonus                     int64 // Scalar7 + liquidation bonus
}

func newSeizeConversion(liab, coll *Reserve, liabPrice, collPrice PriceData) (*seizeConversion, error) {
	c := &seizeConversion{
		liabPrice: liabPrice.Price,
		collPrice: collPrice.Price,
		bonus:     fpmath.Scalar7 + coll.Config.LiquidationBonus,
	}
	var err error
	if c.liabScale, err = fpmath.Pow10(liab.Config.Decimals); err != nil {
		return nil, err
	}
	if c.liabPriceScale, err = fpmath.Pow10(liabPrice.Decimals); err != nil {
		return nil, err
	}
	if c.collScale, err = fpmath.Pow10(coll.Config.Decimals); err != nil {
		return nil, err
	}
	if c.collPriceScale, err = fpmath.Pow10(collPrice.Decimals); err != nil {
		return nil, err
	}
	return c, nil
}

// seizeFor returns the collateral tokens worth repaid·(1+bonus), rounded down.
func (c *seizeConversion) seizeFor(repaid int64) (int64, error) {
	return fpmath.MulDivN(
		[]int64{repaid, c.liabPrice, c.bonus, c.collScale, c.collPriceScale},
		[]int64{c.liabScale, c.liabPriceScale, fpmath.Scalar7, c.collPrice},
		fpmath.RoundDown,
	)
}

// repayFor returns the liability tokens whose value·(1+bonus) covers seized,
// rounded up so the seized value never exceeds repaid·(1+bonus).
func (c *seizeConversion) repayFor(seized int64) (int64, error) {
	return fpmath.MulDivN(
		[]int64{seized, c.collPrice, fpmath.Scalar7, c.liabScale, c.liabPriceScale},
		[]int64{c.collScale, c.collPriceScale, c.liabPrice, c.bonus},
		fpmath.RoundUp,
	)
}
