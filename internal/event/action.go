// internal/event/action.go
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// UserAction is the common body of supply, withdraw, borrow and repay.
type UserAction struct {
	ActionID  uuid.UUID `json:"action_id"`
	UserID    uuid.UUID `json:"user_id"`
	Reserve   string    `json:"asset"`
	Amount    int64     `json:"amount"` // token base units
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"` // unix seconds
}

func (a *UserAction) IdempotencyKey() string {
	return a.ActionID.String()
}

func (a *UserAction) Asset() *string {
	s := a.Reserve
	return &s
}

func (a *UserAction) SourceSequence() int64 {
	return a.Sequence
}

func (a *UserAction) Time() int64 {
	return a.Timestamp
}

func (a *UserAction) Validate() error {
	if a.ActionID == uuid.Nil {
		return fmt.Errorf("action_id is required")
	}
	if a.UserID == uuid.Nil {
		return fmt.Errorf("user_id is required")
	}
	if a.Reserve == "" {
		return fmt.Errorf("asset is required")
	}
	if a.Amount <= 0 {
		return fmt.Errorf("amount must be > 0, got %d", a.Amount)
	}
	return nil
}

type Supply struct{ UserAction }

func (*Supply) EventType() EventType { return EventTypeSupply }

type Withdraw struct{ UserAction }

func (*Withdraw) EventType() EventType { return EventTypeWithdraw }

type Borrow struct{ UserAction }

func (*Borrow) EventType() EventType { return EventTypeBorrow }

type Repay struct{ UserAction }

func (*Repay) EventType() EventType { return EventTypeRepay }
