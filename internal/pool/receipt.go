package pool

import (
	"LendingPool/internal/state"

	"github.com/google/uuid"
)

// Purpose names why tokens moved. Each purpose has a fixed direction.
type Purpose int32

const (
	PurposeSupply           Purpose = iota // user -> pool
	PurposeWithdraw                        // pool -> user
	PurposeBorrow                          // pool -> user
	PurposeRepay                           // user -> pool
	PurposeLiquidationRepay                // liquidator -> pool
	PurposeBackstopInterest                // pool -> backstop
	PurposeBackstopDraw                    // backstop -> pool
	PurposeEmission                        // emitter -> reward pool
	PurposeRewardClaim                     // reward pool -> user
)

func (p Purpose) String() string {
	switch p {
	case PurposeSupply:
		return "supply"
	case PurposeWithdraw:
		return "withdraw"
	case PurposeBorrow:
		return "borrow"
	case PurposeRepay:
		return "repay"
	case PurposeLiquidationRepay:
		return "liquidation_repay"
	case PurposeBackstopInterest:
		return "backstop_interest"
	case PurposeBackstopDraw:
		return "backstop_draw"
	case PurposeEmission:
		return "emission"
	case PurposeRewardClaim:
		return "reward_claim"
	default:
		return "unknown"
	}
}

// Transfer is one token movement caused by an operation.
type Transfer struct {
	Purpose Purpose   `json:"purpose"`
	User    uuid.UUID `json:"user"` // uuid.Nil for system movements
	Asset   string    `json:"asset"`
	Amount  int64     `json:"amount"`
}

// PositionChange is the post-state of a touched position.
type PositionChange struct {
	Position state.Position `json:"position"`
	Deleted  bool           `json:"deleted"`
}

type ShortfallResult struct {
	Asset   string `json:"asset"`
	Amount  int64  `json:"amount"`
	Shares  int64  `json:"shares"`
	Covered bool   `json:"covered"`
	// Bad debt added by this call when the backstop could not cover Amount.
	Recorded int64 `json:"recorded,omitempty"`
}

type LiquidationResult struct {
	Liquidator      uuid.UUID             `json:"liquidator"`
	Borrower        uuid.UUID             `json:"borrower"`
	LiabilityAsset  string                `json:"liability_asset"`
	CollateralAsset string                `json:"collateral_asset"`
	Plan            state.LiquidationPlan `json:"plan"`
	PostHealth      state.AccountHealth   `json:"post_health"`
	Shortfall       []ShortfallResult     `json:"shortfall,omitempty"`
}

// Receipt describes the committed effects of one operation.
type Receipt struct {
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`

	// Primary effect
	User   uuid.UUID `json:"user"`
	Asset  string    `json:"asset,omitempty"`
	Amount int64     `json:"amount"`
	Shares int64     `json:"shares"`

	Transfers    []Transfer                `json:"transfers"`
	Accruals     []state.AccrualResult     `json:"accruals,omitempty"`
	Liquidation  *LiquidationResult        `json:"liquidation,omitempty"`
	Distribution *state.DistributionResult `json:"distribution,omitempty"`
	Rewards      int64                     `json:"rewards,omitempty"`
	Emissions    []state.EmissionShare     `json:"emissions,omitempty"` // new share table

	// Post-state of everything the operation touched
	Reserves  []state.Reserve  `json:"reserves"`
	Positions []PositionChange `json:"positions"`
}
