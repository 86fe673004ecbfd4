package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePoolInitialized
	EventTypeSupply
	EventTypeWithdraw
	EventTypeBorrow
	EventTypeRepay
	EventTypeLiquidate
	EventTypePriceUpdate
	EventTypeEmissionDistribute
	EventTypeRewardClaim
	EventTypeReserveStatusUpdate
	EventTypeReserveAccrual
	EventTypeBackstopFund
	EventTypeEmissionConfigUpdate
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Reserve context (nil for pool-wide events)
	Asset *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event (see Encode)
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Asset returns the reserve context (nil for pool-wide events)
	Asset() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// Time returns the event's unix timestamp in seconds. The core never
	// reads the wall clock; this is its only notion of "now".
	Time() int64

	// Validate checks the payload before it reaches the core
	Validate() error
}

func (et EventType) String() string {
	switch et {
	case EventTypePoolInitialized:
		return "PoolInitialized"
	case EventTypeSupply:
		return "Supply"
	case EventTypeWithdraw:
		return "Withdraw"
	case EventTypeBorrow:
		return "Borrow"
	case EventTypeRepay:
		return "Repay"
	case EventTypeLiquidate:
		return "Liquidate"
	case EventTypePriceUpdate:
		return "PriceUpdate"
	case EventTypeEmissionDistribute:
		return "EmissionDistribute"
	case EventTypeRewardClaim:
		return "RewardClaim"
	case EventTypeReserveStatusUpdate:
		return "ReserveStatusUpdate"
	case EventTypeReserveAccrual:
		return "ReserveAccrual"
	case EventTypeBackstopFund:
		return "BackstopFund"
	default:
		return "Unknown"
	}
}
