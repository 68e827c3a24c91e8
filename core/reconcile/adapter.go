package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"perishable-ledger/core/registry"
)

var (
	// ErrEntityGone is returned by adapters when the entity no longer exists.
	ErrEntityGone = errors.New("entity not found")
	// ErrNoAdapter is returned when no adapter serves an entity type.
	ErrNoAdapter = errors.New("no adapter for entity type")
)

// Ref identifies the fill unit behind a container.
type Ref struct {
	// ContainerID is the ledger container.
	ContainerID string

	// Entity is the live entity holding the goods.
	Entity registry.EntityHandle

	// CommodityIndex is the tracked commodity.
	CommodityIndex uint16

	// FillUnitIndex selects the tank or slot on multi-unit entities.
	FillUnitIndex uint8
}

// RefOf builds the reference of a container.
func RefOf(c *registry.Container) Ref {
	return Ref{ContainerID: c.ID, Entity: c.Entity, CommodityIndex: c.CommodityIndex}
}

// Adapter exposes the externally reported fill level of one entity type.
// Callers never assume a write succeeded; they read the level back.
type Adapter interface {
	// Name returns the entity type name this adapter serves.
	Name() string

	// FillLevel returns the current amount and the fill unit it was read from.
	// It returns ErrEntityGone when the entity no longer exists.
	FillLevel(ctx context.Context, ref Ref) (amount float64, unitIndex uint8, err error)

	// AddFillLevel changes the level by delta. The external side may clamp
	// the change; ok reports whether the call was accepted at all.
	AddFillLevel(ctx context.Context, ref Ref, delta float64) (ok bool, err error)
}

// Scanner is implemented by adapters that can enumerate what they hold.
type Scanner interface {
	Scan(ctx context.Context) ([]Observation, error)
}

// Observation is one fill level as reported by the game side.
type Observation struct {
	EntityType     registry.EntityType   `json:"entity_type"`
	Entity         registry.EntityHandle `json:"entity"`
	FillUnitIndex  uint8                 `json:"fill_unit_index"`
	CommodityIndex uint16                `json:"commodity_index"`
	Amount         float64               `json:"amount"`
	Previous       float64               `json:"previous"`
	Capacity       float64               `json:"capacity,omitempty"`
	FarmID         uint16                `json:"farm_id"`
	WorldObjectID  string                `json:"world_object_id"`
	Location       string                `json:"location"`
}

// Delta returns the change carried by the observation.
func (o Observation) Delta() float64 {
	return o.Amount - o.Previous
}

// Adapters maps entity types to their adapter.
type Adapters struct {
	mu     sync.RWMutex
	byType map[registry.EntityType]Adapter
}

// NewAdapters creates an empty table.
func NewAdapters() *Adapters {
	return &Adapters{byType: make(map[registry.EntityType]Adapter)}
}

// Register binds an adapter to an entity type.
func (a *Adapters) Register(t registry.EntityType, ad Adapter) {
	a.mu.Lock()
	a.byType[t] = ad
	a.mu.Unlock()
}

// For returns the adapter of an entity type.
func (a *Adapters) For(t registry.EntityType) (Adapter, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ad, ok := a.byType[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, t)
	}
	return ad, nil
}

// Types lists registered entity types in ascending order.
func (a *Adapters) Types() []registry.EntityType {
	a.mu.RLock()
	out := make([]registry.EntityType, 0, len(a.byType))
	for t := range a.byType {
		out = append(out, t)
	}
	a.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Scan collects observations from every adapter that implements Scanner.
func (a *Adapters) Scan(ctx context.Context) ([]Observation, error) {
	var out []Observation
	for _, t := range a.Types() {
		ad, err := a.For(t)
		if err != nil {
			continue
		}
		sc, ok := ad.(Scanner)
		if !ok {
			continue
		}
		obs, err := sc.Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", t, err)
		}
		out = append(out, obs...)
	}
	return out, nil
}
