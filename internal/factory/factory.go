package factory

import (
	"fmt"
	"sort"
	"sync"

	"LendingPool/internal/pool"
	"LendingPool/internal/state"
)

// Factory deploys pools that share one oracle and one backstop.
type Factory struct {
	mu       sync.RWMutex
	oracle   state.Oracle
	backstop state.Backstop
	pools    map[string]*pool.Pool
}

func New(oracle state.Oracle, backstop state.Backstop) *Factory {
	return &Factory{
		oracle:   oracle,
		backstop: backstop,
		pools:    make(map[string]*pool.Pool),
	}
}

// Deploy creates a pool and initializes it with cfg. Pool names are unique.
func (f *Factory) Deploy(cfg state.PoolConfig, now int64) (*pool.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.pools[cfg.Name]; exists {
		return nil, fmt.Errorf("pool %q: %w", cfg.Name, state.ErrAlreadyInitialized)
	}

	p := pool.New(f.oracle, f.backstop)
	if err := p.Initialize(cfg, now); err != nil {
		return nil, fmt.Errorf("deploy %q: %w", cfg.Name, err)
	}
	f.pools[cfg.Name] = p
	return p, nil
}

// Adopt registers an already-built pool, e.g. one restored from a snapshot.
func (f *Factory) Adopt(p *pool.Pool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.pools[p.Name()]; exists {
		return fmt.Errorf("pool %q: %w", p.Name(), state.ErrAlreadyInitialized)
	}
	f.pools[p.Name()] = p
	return nil
}

func (f *Factory) Get(name string) (*pool.Pool, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.pools[name]
	return p, ok
}

// List returns deployed pool names in sorted order.
func (f *Factory) List() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.pools))
	for name := range f.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
