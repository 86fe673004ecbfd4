// internal/event/codec.go
package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

var eventNames = map[EventType]string{
	EventTypePoolInitialized:      "pool_initialized",
	EventTypeSupply:               "supply",
	EventTypeWithdraw:             "withdraw",
	EventTypeBorrow:               "borrow",
	EventTypeRepay:                "repay",
	EventTypeLiquidate:            "liquidate",
	EventTypePriceUpdate:          "price_update",
	EventTypeEmissionDistribute:   "emission_distribute",
	EventTypeRewardClaim:          "reward_claim",
	EventTypeReserveStatusUpdate:  "reserve_status_update",
	EventTypeReserveAccrual:       "reserve_accrual",
	EventTypeBackstopFund:         "backstop_fund",
	EventTypeEmissionConfigUpdate: "emission_config_update",
}

// Name returns the snake_case wire name used in subjects and the event log.
func (et EventType) Name() string {
	if n, ok := eventNames[et]; ok {
		return n
	}
	return "unknown"
}

// ParseEventType accepts either the wire name or the String() form.
func ParseEventType(s string) (EventType, error) {
	for et, n := range eventNames {
		if strings.EqualFold(s, n) || strings.EqualFold(s, et.String()) {
			return et, nil
		}
	}
	return EventTypeUnknown, fmt.Errorf("unknown event type %q", s)
}

// New returns an empty payload for the type.
func New(et EventType) (Event, error) {
	switch et {
	case EventTypePoolInitialized:
		return &PoolInitialized{}, nil
	case EventTypeSupply:
		return &Supply{}, nil
	case EventTypeWithdraw:
		return &Withdraw{}, nil
	case EventTypeBorrow:
		return &Borrow{}, nil
	case EventTypeRepay:
		return &Repay{}, nil
	case EventTypeLiquidate:
		return &Liquidate{}, nil
	case EventTypePriceUpdate:
		return &PriceUpdate{}, nil
	case EventTypeEmissionDistribute:
		return &EmissionDistribute{}, nil
	case EventTypeRewardClaim:
		return &RewardClaim{}, nil
	case EventTypeReserveStatusUpdate:
		return &ReserveStatusUpdate{}, nil
	case EventTypeReserveAccrual:
		return &ReserveAccrual{}, nil
	case EventTypeBackstopFund:
		return &BackstopFund{}, nil
	case EventTypeEmissionConfigUpdate:
		return &EmissionConfigUpdate{}, nil
	default:
		return nil, fmt.Errorf("unsupported event type %d", et)
	}
}

// Encode serializes an event payload for the envelope.
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// Decode parses a payload of the given type. Validation is left to the caller.
func Decode(et EventType, data []byte) (Event, error) {
	evt, err := New(et)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et.Name(), err)
	}
	return evt, nil
}
