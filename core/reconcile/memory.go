package reconcile

import (
	"context"
	"math"
	"sort"
	"sync"

	"perishable-ledger/core/ledger"
	"perishable-ledger/core/registry"
)

// ChangeFunc is called after every fill level change, like a game callback.
type ChangeFunc func(ctx context.Context, obs Observation)

type unitKey struct {
	entity registry.EntityHandle
	unit   uint8
}

// MemoryAdapter keeps reported fill levels in memory. It is fed by fill
// reports from the game side and written by explicit admin commands.
type MemoryAdapter struct {
	mu        sync.RWMutex
	typ       registry.EntityType
	levels    map[unitKey]Observation
	listeners []ChangeFunc
}

// NewMemoryAdapter creates an adapter for one entity type.
func NewMemoryAdapter(t registry.EntityType) *MemoryAdapter {
	return &MemoryAdapter{typ: t, levels: make(map[unitKey]Observation)}
}

// Name returns the entity type name.
func (m *MemoryAdapter) Name() string { return m.typ.String() }

// OnChange registers a change listener.
func (m *MemoryAdapter) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Report stores an observed level and notifies listeners. Previous is
// filled in from the stored level. It returns the stored observation.
func (m *MemoryAdapter) Report(ctx context.Context, obs Observation) Observation {
	obs.EntityType = m.typ
	if !(obs.Amount >= 0) || math.IsInf(obs.Amount, 1) {
		obs.Amount = 0
	}
	key := unitKey{obs.Entity, obs.FillUnitIndex}

	m.mu.Lock()
	prev, known := m.levels[key]
	obs.Previous = 0
	if known {
		obs.Previous = prev.Amount
		if obs.Capacity == 0 {
			obs.Capacity = prev.Capacity
		}
	}
	m.levels[key] = obs
	listeners := append([]ChangeFunc(nil), m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(ctx, obs)
	}
	return obs
}

// Remove forgets an entity, as when it is sold or destroyed.
func (m *MemoryAdapter) Remove(h registry.EntityHandle) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.levels {
		if k.entity == h {
			delete(m.levels, k)
			n++
		}
	}
	return n
}

// FillLevel returns the stored level of the referenced fill unit.
func (m *MemoryAdapter) FillLevel(_ context.Context, ref Ref) (float64, uint8, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obs, ok := m.find(ref)
	if !ok {
		return 0, 0, ErrEntityGone
	}
	return obs.Amount, obs.FillUnitIndex, nil
}

// AddFillLevel changes the stored level, clamping to [0, capacity] when a
// capacity is known. Listeners are notified only when the level moved.
func (m *MemoryAdapter) AddFillLevel(ctx context.Context, ref Ref, delta float64) (bool, error) {
	m.mu.RLock()
	obs, ok := m.find(ref)
	m.mu.RUnlock()
	if !ok {
		return false, ErrEntityGone
	}
	next := math.Max(0, obs.Amount+delta)
	if obs.Capacity > 0 {
		next = math.Min(next, obs.Capacity)
	}
	if math.Abs(next-obs.Amount) < ledger.Epsilon {
		return true, nil
	}
	obs.Amount = next
	m.Report(ctx, obs)
	return true, nil
}

// find looks up the fill unit holding the referenced commodity. When the
// exact unit holds something else the first unit of the entity holding the
// commodity is used.
func (m *MemoryAdapter) find(ref Ref) (Observation, bool) {
	if obs, ok := m.levels[unitKey{ref.Entity, ref.FillUnitIndex}]; ok && obs.CommodityIndex == ref.CommodityIndex {
		return obs, true
	}
	var (
		best  Observation
		found bool
	)
	for k, obs := range m.levels {
		if k.entity != ref.Entity || obs.CommodityIndex != ref.CommodityIndex {
			continue
		}
		if !found || obs.FillUnitIndex < best.FillUnitIndex {
			best, found = obs, true
		}
	}
	return best, found
}

// Scan lists every stored level, ordered by entity then fill unit.
func (m *MemoryAdapter) Scan(_ context.Context) ([]Observation, error) {
	m.mu.RLock()
	out := make([]Observation, 0, len(m.levels))
	for _, obs := range m.levels {
		out = append(out, obs)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].FillUnitIndex < out[j].FillUnitIndex
	})
	return out, nil
}
