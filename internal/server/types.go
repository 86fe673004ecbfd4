package server

import (
	"encoding/json"

	"LendingPool/internal/pool"
	"LendingPool/internal/query"
	"LendingPool/internal/state"
)

// Request and response messages of lendingpool.v1.PoolService. They travel
// as JSON over both gRPC and the HTTP gateway.

type SubmitRequest struct {
	EventType string          `json:"event_type"` // "supply", "Liquidate", ...
	Payload   json.RawMessage `json:"payload"`
}

type SubmitResponse struct {
	Accepted  bool          `json:"accepted"`
	Skipped   bool          `json:"skipped,omitempty"` // duplicate or stale price
	Sequence  int64         `json:"sequence,omitempty"`
	StateHash string        `json:"state_hash,omitempty"`
	Receipt   *pool.Receipt `json:"receipt,omitempty"`
}

type HealthCheckRequest struct {
	UserID string `json:"user_id"`
	// At values the account at this unix time; 0 means now.
	At int64 `json:"at,omitempty"`
}

type HealthCheckResponse struct {
	UserID          string `json:"user_id"`
	CollateralValue int64  `json:"collateral_value"`
	LiabilityValue  int64  `json:"liability_value"`
	HealthFactor    string `json:"health_factor"`
	Healthy         bool   `json:"healthy"`
	PendingRewards  int64  `json:"pending_rewards"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

type GetReserveRequest struct {
	Asset string `json:"asset"`
}

type GetReserveResponse struct {
	Reserve *query.ReserveResponse `json:"reserve"`
}

type ListReservesRequest struct{}

type ListReservesResponse struct {
	Reserves []query.ReserveResponse `json:"reserves"`
}

type UserRequest struct {
	UserID string `json:"user_id"`
}

type GetPositionsResponse struct {
	Positions []query.PositionResponse `json:"positions"`
}

type GetBalancesResponse struct {
	Balances []query.BalanceResponse `json:"balances"`
}

type GetLiquidationsRequest struct {
	Borrower       string `json:"borrower"`
	Limit          int    `json:"limit,omitempty"`
	BeforeSequence int64  `json:"before_sequence,omitempty"`
}

type GetLiquidationsResponse struct {
	Liquidations []query.LiquidationResponse `json:"liquidations"`
}

type GetJournalHistoryRequest struct {
	UserID         string `json:"user_id"`
	Limit          int    `json:"limit,omitempty"`
	BeforeSequence int64  `json:"before_sequence,omitempty"`
}

type GetJournalHistoryResponse struct {
	Entries []query.JournalHistoryEntry `json:"entries"`
}

type SetReserveStatusRequest struct {
	Asset  string `json:"asset"`
	Status string `json:"status"` // Active, Frozen, Paused
}

type FundBackstopRequest struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

type SetEmissionsRequest struct {
	Shares []state.EmissionShare `json:"shares"`
}

type AccrueRequest struct {
	Asset string `json:"asset"`
}

type EmptyRequest struct{}

type EventLogInfoResponse struct {
	LastSequence     int64  `json:"last_sequence"`
	CoreSequence     int64  `json:"core_sequence"`
	StateHash        string `json:"state_hash"`
	ProjectionsBuilt int64  `json:"projections_rebuilt,omitempty"`
}

type VerifyIntegrityResponse struct {
	Report *query.IntegrityReport `json:"report"`
}
