package event

import (
	"fmt"

	"LendingPool/internal/state"

	"github.com/google/uuid"
)

// PoolInitialized carries the one-time pool configuration.
type PoolInitialized struct {
	Config    state.PoolConfig `json:"config"`
	Sequence  int64            `json:"sequence"`
	Timestamp int64            `json:"timestamp"`
}

func (p *PoolInitialized) IdempotencyKey() string {
	return fmt.Sprintf("pool_init:%s", p.Config.Name)
}

func (p *PoolInitialized) EventType() EventType {
	return EventTypePoolInitialized
}

func (p *PoolInitialized) Asset() *string {
	return nil
}

func (p *PoolInitialized) SourceSequence() int64 {
	return p.Sequence
}

func (p *PoolInitialized) Time() int64 {
	return p.Timestamp
}

func (p *PoolInitialized) Validate() error {
	return state.ValidatePoolConfig(&p.Config)
}

// ReserveStatusUpdate moves a reserve between Active, Frozen and Paused.
type ReserveStatusUpdate struct {
	UpdateID  uuid.UUID `json:"update_id"`
	Reserve   string    `json:"asset"`
	Status    string    `json:"status"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
}

func (u *ReserveStatusUpdate) IdempotencyKey() string {
	return u.UpdateID.String()
}

func (u *ReserveStatusUpdate) EventType() EventType {
	return EventTypeReserveStatusUpdate
}

func (u *ReserveStatusUpdate) Asset() *string {
	s := u.Reserve
	return &s
}

func (u *ReserveStatusUpdate) SourceSequence() int64 {
	return u.Sequence
}

func (u *ReserveStatusUpdate) Time() int64 {
	return u.Timestamp
}

func (u *ReserveStatusUpdate) Validate() error {
	if u.UpdateID == uuid.Nil {
		return fmt.Errorf("update_id is required")
	}
	if u.Reserve == "" {
		return fmt.Errorf("asset is required")
	}
	if _, err := state.ParseReserveStatus(u.Status); err != nil {
		return err
	}
	return nil
}

// ReserveAccrual is a keeper tick that brings one reserve's indices current.
type ReserveAccrual struct {
	Reserve   string `json:"asset"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func (a *ReserveAccrual) IdempotencyKey() string {
	return fmt.Sprintf("%s:accrue:%d", a.Reserve, a.Sequence)
}

func (a *ReserveAccrual) EventType() EventType {
	return EventTypeReserveAccrual
}

func (a *ReserveAccrual) Asset() *string {
	s := a.Reserve
	return &s
}

func (a *ReserveAccrual) SourceSequence() int64 {
	return a.Sequence
}

func (a *ReserveAccrual) Time() int64 {
	return a.Timestamp
}

func (a *ReserveAccrual) Validate() error {
	if a.Reserve == "" {
		return fmt.Errorf("asset is required")
	}
	return nil
}

// BackstopFund tops up the insurance fund from outside the pool.
type BackstopFund struct {
	FundingID uuid.UUID `json:"funding_id"`
	Reserve   string    `json:"asset"`
	Amount    int64     `json:"amount"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
}

func (f *BackstopFund) IdempotencyKey() string {
	return f.FundingID.String()
}

func (f *BackstopFund) EventType() EventType {
	return EventTypeBackstopFund
}

func (f *BackstopFund) Asset() *string {
	s := f.Reserve
	return &s
}

func (f *BackstopFund) SourceSequence() int64 {
	return f.Sequence
}

func (f *BackstopFund) Time() int64 {
	return f.Timestamp
}

func (f *BackstopFund) Validate() error {
	if f.FundingID == uuid.Nil {
		return fmt.Errorf("funding_id is required")
	}
	if f.Reserve == "" {
		return fmt.Errorf("asset is required")
	}
	if f.Amount <= 0 {
		return fmt.Errorf("amount must be > 0, got %d", f.Amount)
	}
	return nil
}
