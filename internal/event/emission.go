package event

import (
	"fmt"

	"LendingPool/internal/state"

	"github.com/google/uuid"
)

// EmissionDistribute delivers reward tokens from the emitter.
type EmissionDistribute struct {
	DistributionID uuid.UUID `json:"distribution_id"`
	Amount         int64     `json:"amount"`
	Sequence       int64     `json:"sequence"`
	Timestamp      int64     `json:"timestamp"`
}

func (e *EmissionDistribute) IdempotencyKey() string {
	return e.DistributionID.String()
}

func (e *EmissionDistribute) EventType() EventType {
	return EventTypeEmissionDistribute
}

func (e *EmissionDistribute) Asset() *string {
	return nil // Pool-wide event
}

func (e *EmissionDistribute) SourceSequence() int64 {
	return e.Sequence
}

func (e *EmissionDistribute) Time() int64 {
	return e.Timestamp
}

func (e *EmissionDistribute) Validate() error {
	if e.DistributionID == uuid.Nil {
		return fmt.Errorf("distribution_id is required")
	}
	if e.Amount <= 0 {
		return fmt.Errorf("amount must be > 0, got %d", e.Amount)
	}
	return nil
}

// RewardClaim pays out a user's accrued rewards.
type RewardClaim struct {
	ClaimID   uuid.UUID `json:"claim_id"`
	UserID    uuid.UUID `json:"user_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
}

func (c *RewardClaim) IdempotencyKey() string {
	return c.ClaimID.String()
}

func (c *RewardClaim) EventType() EventType {
	return EventTypeRewardClaim
}

func (c *RewardClaim) Asset() *string {
	return nil
}

func (c *RewardClaim) SourceSequence() int64 {
	return c.Sequence
}

func (c *RewardClaim) Time() int64 {
	return c.Timestamp
}

func (c *RewardClaim) Validate() error {
	if c.ClaimID == uuid.Nil || c.UserID == uuid.Nil {
		return fmt.Errorf("claim_id and user_id are required")
	}
	return nil
}

// EmissionConfigUpdate replaces the reward share table. It affects later
// distributions only; accrued rewards are kept.
type EmissionConfigUpdate struct {
	UpdateID  uuid.UUID             `json:"update_id"`
	Shares    []state.EmissionShare `json:"shares"`
	Sequence  int64                 `json:"sequence"`
	Timestamp int64                 `json:"timestamp"`
}

func (u *EmissionConfigUpdate) IdempotencyKey() string {
	return u.UpdateID.String()
}

func (u *EmissionConfigUpdate) EventType() EventType {
	return EventTypeEmissionConfigUpdate
}

func (u *EmissionConfigUpdate) Asset() *string {
	return nil
}

func (u *EmissionConfigUpdate) SourceSequence() int64 {
	return u.Sequence
}

func (u *EmissionConfigUpdate) Time() int64 {
	return u.Timestamp
}

func (u *EmissionConfigUpdate) Validate() error {
	if u.UpdateID == uuid.Nil {
		return fmt.Errorf("update_id is required")
	}
	for i, sh := range u.Shares {
		if sh.Asset == "" {
			return fmt.Errorf("shares[%d]: asset is required", i)
		}
	}
	return nil
}
