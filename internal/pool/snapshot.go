package pool

import (
	"fmt"

	"LendingPool/internal/state"

	"github.com/google/uuid"
)

// Snapshot is the full serializable state of a pool.
type Snapshot struct {
	Config      state.PoolConfig     `json:"config"`
	Initialized bool                 `json:"initialized"`
	Reserves    []state.Reserve      `json:"reserves"`
	Positions   []state.Position     `json:"positions"`
	Emissions   state.EmissionsState `json:"emissions"`
}

func (p *Pool) Export() Snapshot {
	s := Snapshot{
		Config:      p.cfg,
		Initialized: p.initialized,
		Emissions:   p.emissions.State(),
	}
	for _, asset := range p.order {
		s.Reserves = append(s.Reserves, *p.reserves[asset])
	}
	for _, pos := range p.positions.All() {
		s.Positions = append(s.Positions, *pos)
	}
	return s
}

// Restore rebuilds a pool from a snapshot.
func Restore(s Snapshot, oracle state.Oracle, backstop state.Backstop) (*Pool, error) {
	p := New(oracle, backstop)
	if !s.Initialized {
		return p, nil
	}
	if len(s.Reserves) != len(s.Config.Reserves) {
		return nil, fmt.Errorf("snapshot has %d reserves, config has %d", len(s.Reserves), len(s.Config.Reserves))
	}

	p.cfg = s.Config
	for i := range s.Reserves {
		r := s.Reserves[i]
		if err := r.CheckInvariants(); err != nil {
			return nil, fmt.Errorf("restore: %w", err)
		}
		p.reserves[r.Asset] = &r
		p.order = append(p.order, r.Asset)
	}
	for i := range s.Positions {
		pos := s.Positions[i]
		if _, ok := p.reserves[pos.Asset]; !ok {
			return nil, fmt.Errorf("restore: position for unknown reserve %s", pos.Asset)
		}
		p.positions.Set(&pos)
	}
	p.emissions = state.RestoreEmissions(s.Emissions)
	p.wireEngines()
	p.initialized = true
	return p, nil
}

func (p *Pool) Initialized() bool { return p.initialized }

func (p *Pool) Config() state.PoolConfig { return p.cfg }

func (p *Pool) Name() string { return p.cfg.Name }

// Assets returns the reserve assets in registration order.
func (p *Pool) Assets() []string {
	return append([]string(nil), p.order...)
}

func (p *Pool) Reserve(asset string) (state.Reserve, bool) {
	r, ok := p.reserves[asset]
	if !ok {
		return state.Reserve{}, false
	}
	return *r, true
}

func (p *Pool) Reserves() []state.Reserve {
	out := make([]state.Reserve, 0, len(p.order))
	for _, asset := range p.order {
		out = append(out, *p.reserves[asset])
	}
	return out
}

// Positions returns copies of the user's positions in reserve order.
func (p *Pool) Positions(user uuid.UUID) []state.Position {
	held := p.positions.UserPositions(user)
	out := make([]state.Position, 0, len(held))
	for _, pos := range held {
		out = append(out, *pos)
	}
	return out
}

func (p *Pool) Position(user uuid.UUID, asset string) (state.Position, bool) {
	r, ok := p.reserves[asset]
	if !ok {
		return state.Position{}, false
	}
	pos, ok := p.positions.Get(user, r.Index)
	if !ok {
		return state.Position{}, false
	}
	return *pos, true
}

func (p *Pool) Emissions() state.EmissionsState {
	return p.emissions.State()
}
