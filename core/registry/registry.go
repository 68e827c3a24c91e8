package registry

import (
	"fmt"
	"sort"
	"sync"

	"perishable-ledger/core/catalog"
	"perishable-ledger/core/ledger"
	"perishable-ledger/core/settings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Thresholds resolves the expiration threshold of a commodity index.
// settings.Resolver satisfies it.
type Thresholds interface {
	Threshold(idx uint16) (settings.Threshold, bool)
}

// Options configures a Registry.
type Options struct {
	Catalog        *catalog.Catalog
	Thresholds     Thresholds
	Clock          *Clock
	LossLogLimit   int
	MergeThreshold float64
	Sink           Sink
	Logger         *zap.Logger
}

// Registry is the authoritative container store.
type Registry struct {
	mu             sync.Mutex
	containers     map[string]*Container
	byEntity       map[EntityHandle]string
	catalog        *catalog.Catalog
	thresholds     Thresholds
	clock          *Clock
	losses         *LossLog
	stats          Stats
	sink           Sink
	mergeThreshold float64
	logger         *zap.Logger
}

// New creates an empty registry.
func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = NewClock(1)
	}
	if opts.MergeThreshold <= 0 {
		opts.MergeThreshold = ledger.DefaultMergeThreshold
	}
	return &Registry{
		containers:     make(map[string]*Container),
		byEntity:       make(map[EntityHandle]string),
		catalog:        opts.Catalog,
		thresholds:     opts.Thresholds,
		clock:          opts.Clock,
		losses:         NewLossLog(opts.LossLogLimit),
		sink:           opts.Sink,
		mergeThreshold: opts.MergeThreshold,
		logger:         opts.Logger,
	}
}

// SetSink replaces the delta sink.
func (r *Registry) SetSink(s Sink) {
	r.mu.Lock()
	r.sink = s
	r.mu.Unlock()
}

// Clock returns the game clock used for loss entries.
func (r *Registry) Clock() *Clock {
	return r.clock
}

// Catalog returns the commodity catalog.
func (r *Registry) Catalog() *catalog.Catalog {
	return r.catalog
}

// Register adds a container. An empty ID gets a fresh uuid. The returned id
// is the one actually stored.
func (r *Registry) Register(c Container) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if !c.EntityType.Valid() {
		return "", fmt.Errorf("%w: %d", ErrUnknownEntityType, c.EntityType)
	}
	if c.Identity.CommodityName == "" && r.catalog != nil {
		c.Identity.CommodityName = r.catalog.NameOf(c.CommodityIndex)
	}
	stored := c.Clone()
	ledger.Prune(&stored.Batches)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.containers[stored.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, stored.ID)
	}
	if stored.Bound() {
		if other, taken := r.byEntity[stored.Entity]; taken {
			return "", fmt.Errorf("%w: entity %d held by %s", ErrEntityBound, stored.Entity, other)
		}
		r.byEntity[stored.Entity] = stored.ID
	}
	r.containers[stored.ID] = stored
	r.stats.Registered++
	r.emitLocked(OpRegister, stored)

	r.logger.Debug("Container registered",
		zap.String("container_id", stored.ID),
		zap.String("entity_type", stored.EntityType.String()),
		zap.String("commodity", stored.Identity.CommodityName),
	)
	return stored.ID, nil
}

// Unregister removes a container and its reverse index entry.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[id]
	if !ok {
		return ErrContainerNotFound
	}
	if c.Bound() && r.byEntity[c.Entity] == id {
		delete(r.byEntity, c.Entity)
	}
	delete(r.containers, id)
	r.stats.Unregistered++
	r.emitLocked(OpUnregister, c)
	r.logger.Debug("Container unregistered", zap.String("container_id", id))
	return nil
}

// Get returns a copy of a container.
func (r *Registry) Get(id string) (*Container, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// FindByEntity resolves the container bound to an entity.
func (r *Registry) FindByEntity(h EntityHandle) (string, bool) {
	if h == Unresolved {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEntity[h]
	return id, ok
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	EntityType     EntityType
	FarmID         uint16
	CommodityIndex uint16
}

func (f Filter) match(c *Container) bool {
	if f.EntityType != 0 && c.EntityType != f.EntityType {
		return false
	}
	if f.FarmID != 0 && c.FarmID != f.FarmID {
		return false
	}
	if f.CommodityIndex != 0 && c.CommodityIndex != f.CommodityIndex {
		return false
	}
	return true
}

// List returns copies of matching containers ordered by id.
func (r *Registry) List(f Filter) []*Container {
	r.mu.Lock()
	out := make([]*Container, 0, len(r.containers))
	for _, c := range r.containers {
		if f.match(c) {
			out = append(out, c.Clone())
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered containers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.containers)
}

// BindEntity resolves a container's weak entity reference.
func (r *Registry) BindEntity(id string, h EntityHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[id]
	if !ok {
		return ErrContainerNotFound
	}
	if h != Unresolved {
		if other, taken := r.byEntity[h]; taken && other != id {
			return fmt.Errorf("%w: entity %d held by %s", ErrEntityBound, h, other)
		}
	}
	if c.Bound() && r.byEntity[c.Entity] == id {
		delete(r.byEntity, c.Entity)
	}
	c.Entity = h
	if h != Unresolved {
		r.byEntity[h] = id
	}
	return nil
}

// InvalidateEntity clears the binding of a vanished entity. The container
// survives with an unresolved handle.
func (r *Registry) InvalidateEntity(h EntityHandle) (string, bool) {
	if h == Unresolved {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEntity[h]
	if !ok {
		return "", false
	}
	delete(r.byEntity, h)
	if c, exists := r.containers[id]; exists {
		c.Entity = Unresolved
	}
	return id, true
}

// SetLocation updates the display label without emitting a delta.
func (r *Registry) SetLocation(id, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[id]
	if !ok {
		return ErrContainerNotFound
	}
	c.Metadata.LocationLabel = label
	return nil
}

// AddBatch appends a batch to a container.
func (r *Registry) AddBatch(id string, amount, age float64) error {
	if !ledger.Finite(amount) || amount < ledger.Epsilon {
		return ErrInvalidAmount
	}
	if !ledger.Finite(age) || age < 0 {
		return ErrInvalidAge
	}
	return r.Update(id, func(c *Container) error {
		c.Batches = append(c.Batches, ledger.New(amount, age))
		return nil
	})
}

// RemoveBatchByIndex deletes one batch and returns it.
func (r *Registry) RemoveBatchByIndex(id string, idx int) (ledger.Batch, error) {
	var removed ledger.Batch
	err := r.Update(id, func(c *Container) error {
		if idx < 0 || idx >= len(c.Batches) {
			return ErrBatchNotFound
		}
		removed = c.Batches[idx]
		c.Batches = append(c.Batches[:idx], c.Batches[idx+1:]...)
		return nil
	})
	return removed, err
}

// SetBatchAge overwrites the age of one batch.
func (r *Registry) SetBatchAge(id string, idx int, age float64) error {
	if !ledger.Finite(age) || age < 0 {
		return ErrInvalidAge
	}
	return r.Update(id, func(c *Container) error {
		if idx < 0 || idx >= len(c.Batches) {
			return ErrBatchNotFound
		}
		c.Batches[idx].AgeInPeriods = age
		c.Batches[idx].ExpiredLogged = false
		return nil
	})
}

// SetAllBatchAges overwrites the age of every batch and returns how many changed.
func (r *Registry) SetAllBatchAges(id string, age float64) (int, error) {
	if !ledger.Finite(age) || age < 0 {
		return 0, ErrInvalidAge
	}
	n := 0
	err := r.Update(id, func(c *Container) error {
		ledger.SetAllAges(c.Batches, age)
		for i := range c.Batches {
			c.Batches[i].ExpiredLogged = false
		}
		n = len(c.Batches)
		return nil
	})
	return n, err
}

// ConsumeFIFO withdraws up to amount, oldest first.
func (r *Registry) ConsumeFIFO(id string, amount float64) (ledger.ConsumeResult, error) {
	var res ledger.ConsumeResult
	err := r.Update(id, func(c *Container) error {
		res = ledger.ConsumeFIFO(&c.Batches, amount)
		return nil
	})
	return res, err
}

// PeekFIFO returns the weighted age of the oldest amount units.
func (r *Registry) PeekFIFO(id string, amount float64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[id]
	if !ok {
		return 0, ErrContainerNotFound
	}
	return ledger.PeekFIFO(c.Batches, amount), nil
}

// Merge collapses similar-age batches in one container. threshold <= 0 uses
// the configured merge threshold.
func (r *Registry) Merge(id string, threshold float64) (int, error) {
	if threshold <= 0 {
		threshold = r.mergeThreshold
	}
	merged := 0
	err := r.Update(id, func(c *Container) error {
		merged = ledger.MergeSimilarBatches(&c.Batches, threshold)
		return nil
	})
	return merged, err
}

// Update runs fn against a copy of the container. On success the copy is
// committed (batches pruned) and an Update delta is emitted. Identity,
// entity type and id are not writable through fn.
func (r *Registry) Update(id string, fn func(c *Container) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[id]
	if !ok {
		return ErrContainerNotFound
	}
	next := c.Clone()
	if err := fn(next); err != nil {
		return err
	}
	ledger.Prune(&next.Batches)
	c.Batches = next.Batches
	c.FarmID = next.FarmID
	c.Metadata = next.Metadata
	r.emitLocked(OpUpdate, c)
	return nil
}

// Stats returns a copy of the counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Containers = len(r.containers)
	return s
}

// LossLog returns the most recent count loss entries, oldest first.
func (r *Registry) LossLog(count int) []LossEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.losses.Entries(count)
}

// ClearLossLog empties the loss log.
func (r *Registry) ClearLossLog() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.losses.Clear()
	r.logger.Info("Loss log cleared", zap.Int("entries", n))
	return n
}

// Snapshot returns a copy of the whole registry.
func (r *Registry) Snapshot() State {
	r.mu.Lock()
	st := State{
		Containers: make([]*Container, 0, len(r.containers)),
		Losses:     r.losses.Entries(0),
		ClockHours: r.clock.Hours(),
	}
	for _, c := range r.containers {
		st.Containers = append(st.Containers, c.Clone())
	}
	r.mu.Unlock()
	sort.Slice(st.Containers, func(i, j int) bool { return st.Containers[i].ID < st.Containers[j].ID })
	return st
}

// Restore replaces the registry content with st. Entity bindings are
// dropped because handles do not survive a restart. One Register delta is
// emitted per restored container.
func (r *Registry) Restore(st State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.containers {
		r.emitLocked(OpUnregister, c)
		delete(r.containers, id)
	}
	r.byEntity = make(map[EntityHandle]string)
	for _, c := range st.Containers {
		stored := c.Clone()
		stored.Entity = Unresolved
		ledger.Prune(&stored.Batches)
		r.containers[stored.ID] = stored
		r.emitLocked(OpRegister, stored)
	}
	r.losses.Replace(st.Losses)
	r.clock.Set(st.ClockHours)
	r.logger.Info("Registry restored",
		zap.Int("containers", len(r.containers)),
		zap.Int("losses", r.losses.Len()),
	)
}

func (r *Registry) emitLocked(op DeltaOp, c *Container) {
	r.stats.DeltasEmitted++
	if r.sink == nil {
		return
	}
	d := Delta{Op: op, ContainerID: c.ID}
	if op != OpUnregister {
		d.Container = c.Clone()
	}
	r.sink.Publish(d)
}
