// internal/event/price.go
package event

import "fmt"

// PriceUpdate is an oracle quote for one asset.
type PriceUpdate struct {
	Reserve        string `json:"asset"`
	Price          int64  `json:"price"` // Price / 10^Decimals per whole token
	Decimals       uint32 `json:"decimals"`
	PriceSequence  int64  `json:"price_sequence"`  // Monotonic per asset
	PriceTimestamp int64  `json:"price_timestamp"` // unix seconds (versioned input)
}

func (p *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.Reserve, p.PriceSequence)
}

func (p *PriceUpdate) EventType() EventType {
	return EventTypePriceUpdate
}

func (p *PriceUpdate) Asset() *string {
	s := p.Reserve
	return &s
}

func (p *PriceUpdate) SourceSequence() int64 {
	return p.PriceSequence
}

func (p *PriceUpdate) Time() int64 {
	return p.PriceTimestamp
}

func (p *PriceUpdate) Validate() error {
	if p.Reserve == "" {
		return fmt.Errorf("asset is required")
	}
	if p.Price <= 0 {
		return fmt.Errorf("price must be > 0, got %d", p.Price)
	}
	if p.Decimals > 18 {
		return fmt.Errorf("decimals must be <= 18, got %d", p.Decimals)
	}
	if p.PriceSequence <= 0 {
		return fmt.Errorf("price_sequence must be > 0")
	}
	return nil
}
