package query

import "github.com/google/uuid"

// Token amounts, indices and factors are rendered as decimal strings so
// clients never see raw fixed-point integers. Raw share counts stay int64.

// ReserveResponse is one reserve's projected state.
type ReserveResponse struct {
	Asset          string `json:"asset"`
	Index          uint32 `json:"index"`
	Status         string `json:"status"`
	Decimals       uint32 `json:"decimals"`
	SupplyIndex    string `json:"supply_index"`
	LiabilityIndex string `json:"liability_index"`
	TotalSupplied  string `json:"total_supplied"`
	TotalBorrowed  string `json:"total_borrowed"`
	Cash           string `json:"cash"`
	BackstopCredit string `json:"backstop_credit"`
	BadDebt        string `json:"bad_debt"`
	Utilization    string `json:"utilization"`
	BorrowAPR      string `json:"borrow_apr"`
	SupplyAPR      string `json:"supply_apr"`
	LastAccrual    int64  `json:"last_accrual"`
	AsOfSequence   int64  `json:"as_of_sequence"`
}

// PositionResponse is a user's holding in one reserve.
type PositionResponse struct {
	UserID          uuid.UUID `json:"user_id"`
	Asset           string    `json:"asset"`
	SupplyShares    int64     `json:"supply_shares"`
	LiabilityShares int64     `json:"liability_shares"`
	Supplied        string    `json:"supplied"`
	Borrowed        string    `json:"borrowed"`
	AccruedRewards  int64     `json:"accrued_rewards"`
	AsOfSequence    int64     `json:"as_of_sequence"`
}

// LiquidationResponse is one executed liquidation.
type LiquidationResponse struct {
	Sequence         int64     `json:"sequence"`
	Liquidator       uuid.UUID `json:"liquidator"`
	Borrower         uuid.UUID `json:"borrower"`
	LiabilityAsset   string    `json:"liability_asset"`
	CollateralAsset  string    `json:"collateral_asset"`
	RepayAmount      int64     `json:"repay_amount"`
	SeizeTokens      int64     `json:"seize_tokens"`
	SeizeShares      int64     `json:"seize_shares"`
	Capped           bool      `json:"capped"`
	Shortfall        int64     `json:"shortfall"`
	BadDebt          int64     `json:"bad_debt"`
	PreHealthFactor  string    `json:"pre_health_factor"`
	PostHealthFactor string    `json:"post_health_factor"`
	Timestamp        int64     `json:"timestamp"`
	AsOfSequence     int64     `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        int64  `json:"amount"`
	JournalType   int16  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	Asset     string `json:"asset"`
	Imbalance int64  `json:"imbalance"`
}
