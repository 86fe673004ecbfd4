// internal/state/backstop.go
package state

import (
	"sort"
	"sync"
)

// Backstop is the insurance collaborator that absorbs bad debt and receives
// the reserve-factor share of interest.
type Backstop interface {
	// Draw transfers amount of asset to the pool. It is all-or-nothing:
	// false means the backstop could not cover it and nothing moved.
	Draw(asset string, amount int64) bool
	DepositInterest(asset string, amount int64)
}

// InsuranceFund is an in-memory Backstop with per-asset balances.
type InsuranceFund struct {
	mu       sync.Mutex
	balances map[string]int64
	interest map[string]int64 // cumulative DepositInterest per asset
	drawn    map[string]int64 // cumulative Draw per asset
}

func NewInsuranceFund(initial map[string]int64) *InsuranceFund {
	f := &InsuranceFund{
		balances: make(map[string]int64),
		interest: make(map[string]int64),
		drawn:    make(map[string]int64),
	}
	for k, v := range initial {
		f.balances[k] = v
	}
	return f
}

// ComputeCoverage returns how much the fund can cover.
// If the fund is insufficient, returns the partial amount and the remaining deficit.
func (f *InsuranceFund) ComputeCoverage(fundBalance int64, deficit int64) (covered int64, remaining int64) {
	if fundBalance >= deficit {
		return deficit, 0
	}
	return fundBalance, deficit - fundBalance
}

func (f *InsuranceFund) Draw(asset string, amount int64) bool {
	if amount <= 0 {
		return amount == 0
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	_, remaining := f.ComputeCoverage(f.balances[asset], amount)
	if remaining > 0 {
		return false
	}
	f.balances[asset] -= amount
	f.drawn[asset] += amount
	return true
}

func (f *InsuranceFund) DepositInterest(asset string, amount int64) {
	if amount <= 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.balances[asset] += amount
	f.interest[asset] += amount
}

// Fund adds backstop capital (admin top-up).
func (f *InsuranceFund) Fund(asset string, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.balances[asset] += amount
}

func (f *InsuranceFund) Balance(asset string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.balances[asset]
}

// FundState is a point-in-time copy of the fund for snapshots.
type FundState struct {
	Balances map[string]int64 `json:"balances"`
	Interest map[string]int64 `json:"interest"`
	Drawn    map[string]int64 `json:"drawn"`
}

func (f *InsuranceFund) State() FundState {
	f.mu.Lock()
	defer f.mu.Unlock()

	return FundState{
		Balances: copyAmounts(f.balances),
		Interest: copyAmounts(f.interest),
		Drawn:    copyAmounts(f.drawn),
	}
}

func (f *InsuranceFund) Restore(s FundState) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.balances = copyAmounts(s.Balances)
	f.interest = copyAmounts(s.Interest)
	f.drawn = copyAmounts(s.Drawn)
}

// Assets returns every asset the fund has seen, sorted.
func (f *InsuranceFund) Assets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[string]bool)
	for _, m := range []map[string]int64{f.balances, f.interest, f.drawn} {
		for k := range m {
			seen[k] = true
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func copyAmounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
