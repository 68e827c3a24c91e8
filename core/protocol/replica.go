package protocol

import (
	"sort"
	"sync"

	"perishable-ledger/core/ledger"
	"perishable-ledger/core/registry"
	"perishable-ledger/core/settings"
)

// EntityResolver maps a sender's entity reference to a local handle. It may
// return registry.Unresolved when the entity has not replicated yet.
type EntityResolver interface {
	Resolve(remote uint32) registry.EntityHandle
}

// ResolverFunc adapts a function to EntityResolver.
type ResolverFunc func(remote uint32) registry.EntityHandle

// Resolve calls f.
func (f ResolverFunc) Resolve(remote uint32) registry.EntityHandle { return f(remote) }

// IdentityResolver keeps handles as sent, for replicas that share the
// sender's entity space.
var IdentityResolver = ResolverFunc(func(remote uint32) registry.EntityHandle {
	return registry.EntityHandle(remote)
})

// Replica is the client side copy of the registry and settings. It is only
// ever changed by applying protocol messages.
type Replica struct {
	mu         sync.RWMutex
	resolver   EntityResolver
	containers map[string]*registry.Container
	byEntity   map[registry.EntityHandle]string
	losses     []registry.LossEntry
	overrides  settings.Overrides
	session    Welcome
	synced     bool
}

// NewReplica creates an empty replica. A nil resolver keeps handles as sent.
func NewReplica(resolver EntityResolver) *Replica {
	if resolver == nil {
		resolver = IdentityResolver
	}
	return &Replica{
		resolver:   resolver,
		containers: make(map[string]*registry.Container),
		byEntity:   make(map[registry.EntityHandle]string),
		overrides:  settings.NewOverrides(),
	}
}

// Synced reports whether a full sync has been applied.
func (r *Replica) Synced() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.synced
}

// Admin reports whether the server granted this session privilege.
func (r *Replica) Admin() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session.Admin
}

// SessionID returns the id assigned by the server.
func (r *Replica) SessionID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session.SessionID
}

// Get returns a copy of one container.
func (r *Replica) Get(id string) (*registry.Container, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.containers[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// FindByEntity resolves a local entity to its container id.
func (r *Replica) FindByEntity(h registry.EntityHandle) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEntity[h]
	return id, ok
}

// Containers returns copies of every container ordered by id.
func (r *Replica) Containers() []*registry.Container {
	r.mu.RLock()
	out := make([]*registry.Container, 0, len(r.containers))
	for _, c := range r.containers {
		out = append(out, c.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of containers.
func (r *Replica) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.containers)
}

// Losses returns the loss log received with the last full sync.
func (r *Replica) Losses() []registry.LossEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]registry.LossEntry(nil), r.losses...)
}

// Overrides returns the replicated user overrides.
func (r *Replica) Overrides() settings.Overrides {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.overrides.Clone()
}

// State re-serializes the replica as a full sync.
func (r *Replica) State() *FullSync {
	return &FullSync{Containers: r.Containers(), Losses: r.Losses()}
}

// TotalAmount sums the batches of one container, 0 when unknown.
func (r *Replica) TotalAmount(id string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.containers[id]; ok {
		return ledger.TotalAmount(c.Batches)
	}
	return 0
}

func (r *Replica) bindLocked(c *registry.Container) {
	c.Entity = r.resolver.Resolve(uint32(c.Entity))
	if c.Entity != registry.Unresolved {
		r.byEntity[c.Entity] = c.ID
	}
}

func (r *Replica) unbindLocked(c *registry.Container) {
	if c.Entity != registry.Unresolved && r.byEntity[c.Entity] == c.ID {
		delete(r.byEntity, c.Entity)
	}
}
