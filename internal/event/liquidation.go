package event

import (
	"fmt"

	"github.com/google/uuid"
)

// Liquidate is a permissionless liquidation request.
type Liquidate struct {
	LiquidationID   uuid.UUID `json:"liquidation_id"`
	LiquidatorID    uuid.UUID `json:"liquidator_id"`
	BorrowerID      uuid.UUID `json:"borrower_id"`
	LiabilityAsset  string    `json:"liability_asset"`
	CollateralAsset string    `json:"collateral_asset"`
	Amount          int64     `json:"amount"` // liability tokens offered
	Sequence        int64     `json:"sequence"`
	Timestamp       int64     `json:"timestamp"`
}

func (l *Liquidate) IdempotencyKey() string {
	return l.LiquidationID.String()
}

func (l *Liquidate) EventType() EventType {
	return EventTypeLiquidate
}

func (l *Liquidate) Asset() *string {
	s := l.LiabilityAsset
	return &s
}

func (l *Liquidate) SourceSequence() int64 {
	return l.Sequence
}

func (l *Liquidate) Time() int64 {
	return l.Timestamp
}

func (l *Liquidate) Validate() error {
	if l.LiquidationID == uuid.Nil {
		return fmt.Errorf("liquidation_id is required")
	}
	if l.LiquidatorID == uuid.Nil || l.BorrowerID == uuid.Nil {
		return fmt.Errorf("liquidator_id and borrower_id are required")
	}
	if l.LiabilityAsset == "" || l.CollateralAsset == "" {
		return fmt.Errorf("liability_asset and collateral_asset are required")
	}
	if l.Amount <= 0 {
		return fmt.Errorf("amount must be > 0, got %d", l.Amount)
	}
	return nil
}
