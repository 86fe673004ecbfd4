package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	fpmath "LendingPool/internal/math"
)

var ErrPriceNotFound = errors.New("price not found")

// PriceData is an oracle quote: Price / 10^Decimals per whole token.
type PriceData struct {
	Price     int64  `json:"price"`
	Decimals  uint32 `json:"decimals"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// Oracle supplies prices to the risk engine.
type Oracle interface {
	GetPrice(asset string) (PriceData, error)
}

// PriceFeed is an in-memory Oracle fed by price update events.
type PriceFeed struct {
	mu     sync.RWMutex
	prices map[string]PriceData
}

func NewPriceFeed() *PriceFeed {
	return &PriceFeed{prices: make(map[string]PriceData)}
}

func (pf *PriceFeed) GetPrice(asset string) (PriceData, error) {
	pf.mu.RLock()
	defer pf.mu.RUnlock()

	p, ok := pf.prices[asset]
	if !ok {
		return PriceData{}, fmt.Errorf("%w: %s", ErrPriceNotFound, asset)
	}
	return p, nil
}

// Update stores a new quote. Quotes older than the current one are ignored.
func (pf *PriceFeed) Update(asset string, p PriceData) error {
	if asset == "" {
		return fmt.Errorf("%w: asset must be set", ErrInvalidInput)
	}
	if p.Price <= 0 {
		return fmt.Errorf("%w: price must be > 0, got %d", ErrInvalidInput, p.Price)
	}
	if p.Decimals > fpmath.MaxDecimals {
		return fmt.Errorf("%w: price decimals must be <= %d", ErrInvalidInput, fpmath.MaxDecimals)
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	if cur, ok := pf.prices[asset]; ok && p.Timestamp < cur.Timestamp {
		return nil
	}
	pf.prices[asset] = p
	return nil
}

// All returns a copy of every stored quote.
func (pf *PriceFeed) All() map[string]PriceData {
	pf.mu.RLock()
	defer pf.mu.RUnlock()

	out := make(map[string]PriceData, len(pf.prices))
	for k, v := range pf.prices {
		out[k] = v
	}
	return out
}

// Newest returns the latest quote timestamp across all assets.
func (pf *PriceFeed) Newest() (int64, bool) {
	pf.mu.RLock()
	defer pf.mu.RUnlock()

	var newest int64
	for _, p := range pf.prices {
		newest = max(newest, p.Timestamp)
	}
	return newest, len(pf.prices) > 0
}

// Restore replaces every quote (snapshot restore).
func (pf *PriceFeed) Restore(prices map[string]PriceData) {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	pf.prices = make(map[string]PriceData, len(prices))
	for k, v := range prices {
		pf.prices[k] = v
	}
}

// Assets returns the quoted assets in sorted order.
func (pf *PriceFeed) Assets() []string {
	pf.mu.RLock()
	defer pf.mu.RUnlock()

	out := make([]string, 0, len(pf.prices))
	for k := range pf.prices {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
