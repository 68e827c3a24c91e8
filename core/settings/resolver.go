package settings

import (
	"fmt"
	"sync"

	"perishable-ledger/core/catalog"

	"go.uber.org/zap"
)

// Threshold is the cached expiration data for one commodity index.
type Threshold struct {
	Expiration float64 `json:"expiration"`
	Warning    float64 `json:"warning"`
}

// Source names the layer a resolved expiration came from.
type Source string

const (
	SourceUser    Source = "user"
	SourceDefault Source = "mod_default"
	SourceNone    Source = "none"
)

// Resolution is a fully explained lookup, used by inspection tooling.
type Resolution struct {
	Commodity  string  `json:"commodity"`
	Expires    bool    `json:"expires"`
	Expiration float64 `json:"expiration,omitempty"`
	Warning    float64 `json:"warning,omitempty"`
	Source     Source  `json:"source"`
}

// ChangeFunc is notified after every override change, once the cache is rebuilt.
type ChangeFunc func(Overrides)

// Resolver resolves expiration thresholds across the three layers.
type Resolver struct {
	mu        sync.RWMutex
	catalog   *catalog.Catalog
	defaults  map[string]catalog.Default
	user      Overrides
	cache     map[uint16]Threshold
	listeners []ChangeFunc
	logger    *zap.Logger
}

// NewResolver creates a resolver with no user overrides.
func NewResolver(cat *catalog.Catalog, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		catalog:  cat,
		defaults: cat.Defaults(),
		user:     NewOverrides(),
		logger:   logger,
	}
	r.rebuildLocked()
	return r
}

// Catalog returns the commodity catalog backing the resolver.
func (r *Resolver) Catalog() *catalog.Catalog {
	return r.catalog
}

// OnChange registers a listener for override changes.
func (r *Resolver) OnChange(fn ChangeFunc) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Expiration resolves the expiration period for a commodity name.
func (r *Resolver) Expiration(name string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := r.resolveLocked(catalog.Normalize(name))
	return res.Expiration, res.Expires
}

// WarningThreshold returns expiration * WarningRatio.
func (r *Resolver) WarningThreshold(name string) (float64, bool) {
	exp, ok := r.Expiration(name)
	if !ok {
		return 0, false
	}
	return exp * WarningRatio, true
}

// Explain resolves a commodity and reports which layer answered.
func (r *Resolver) Explain(name string) Resolution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(catalog.Normalize(name))
}

// Threshold is the O(1) runtime lookup by commodity index.
func (r *Resolver) Threshold(idx uint16) (Threshold, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.cache[idx]
	return t, ok
}

// IsPerishable reports whether the commodity at idx currently expires.
func (r *Resolver) IsPerishable(idx uint16) bool {
	_, ok := r.Threshold(idx)
	return ok
}

// Global returns a global setting.
func (r *Resolver) Global(key string) (Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.user.Global[key]
	return v, ok
}

// Overrides returns a copy of the user layer.
func (r *Resolver) Overrides() Overrides {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.user.Clone()
}

// SetExpiration sets a user expiration period for a commodity.
func (r *Resolver) SetExpiration(name string, period float64) error {
	if err := ValidatePeriod(period); err != nil {
		return err
	}
	return r.mutate(func(o *Overrides) error {
		com, err := r.lookup(name)
		if err != nil {
			return err
		}
		o.PerCommodity[com.Name] = ExpiresAfter(float32(period))
		return nil
	})
}

// SetPerishable toggles expiration for a commodity. Disabling stores a
// "does not expire" override. Enabling removes that override and, when no
// mod default would make the commodity expire, stores DefaultPeriod.
func (r *Resolver) SetPerishable(name string, perishable bool) error {
	return r.mutate(func(o *Overrides) error {
		com, err := r.lookup(name)
		if err != nil {
			return err
		}
		if !perishable {
			o.PerCommodity[com.Name] = DoesNotExpire()
			return nil
		}
		delete(o.PerCommodity, com.Name)
		if def, ok := r.defaults[com.Name]; !ok || !def.Perishable() {
			o.PerCommodity[com.Name] = ExpiresAfter(DefaultPeriod)
		}
		return nil
	})
}

// DefaultPeriod is used when a commodity is made perishable without a period.
const DefaultPeriod = 1.0

// ClearCommodity removes the user override for a commodity.
func (r *Resolver) ClearCommodity(name string) error {
	return r.mutate(func(o *Overrides) error {
		com, err := r.lookup(name)
		if err != nil {
			return err
		}
		delete(o.PerCommodity, com.Name)
		return nil
	})
}

// SetGlobal sets a global value after checking its key and type.
func (r *Resolver) SetGlobal(key string, v Value) error {
	if err := ValidateGlobal(key, v); err != nil {
		return err
	}
	return r.mutate(func(o *Overrides) error {
		o.Global[key] = v
		return nil
	})
}

// ResetAll drops every user override.
func (r *Resolver) ResetAll() {
	_ = r.mutate(func(o *Overrides) error {
		*o = NewOverrides()
		return nil
	})
}

// Replace swaps the whole user layer. Every entry is validated first; on
// failure nothing changes.
func (r *Resolver) Replace(next Overrides) error {
	clean := NewOverrides()
	for k, v := range next.Global {
		if err := ValidateGlobal(k, v); err != nil {
			return err
		}
		clean.Global[k] = v
	}
	for name, o := range next.PerCommodity {
		com, err := r.lookup(name)
		if err != nil {
			return err
		}
		if o.Expires {
			if err := ValidatePeriod(float64(o.Period)); err != nil {
				return fmt.Errorf("%s: %w", com.Name, err)
			}
		}
		clean.PerCommodity[com.Name] = o
	}
	return r.mutate(func(o *Overrides) error {
		*o = clean
		return nil
	})
}

func (r *Resolver) lookup(name string) (catalog.Commodity, error) {
	com, ok := r.catalog.ByName(name)
	if !ok {
		return catalog.Commodity{}, fmt.Errorf("%w: %s", ErrUnknownCommodity, name)
	}
	return com, nil
}

// mutate applies fn to a copy of the overrides, then commits and rebuilds
// the cache under the write lock. Listeners run after the lock is released.
func (r *Resolver) mutate(fn func(*Overrides) error) error {
	r.mu.Lock()
	next := r.user.Clone()
	if err := fn(&next); err != nil {
		r.mu.Unlock()
		return err
	}
	r.user = next
	r.rebuildLocked()
	snapshot := r.user.Clone()
	listeners := append([]ChangeFunc(nil), r.listeners...)
	r.mu.Unlock()

	r.logger.Debug("Settings changed",
		zap.Int("global", len(snapshot.Global)),
		zap.Int("per_commodity", len(snapshot.PerCommodity)),
	)
	for _, fn := range listeners {
		fn(snapshot.Clone())
	}
	return nil
}

func (r *Resolver) resolveLocked(name string) Resolution {
	res := Resolution{Commodity: name, Source: SourceNone}
	if o, ok := r.user.PerCommodity[name]; ok {
		res.Source = SourceUser
		if o.Expires {
			res.Expires = true
			res.Expiration = float64(o.Period)
		}
	} else if def, ok := r.defaults[name]; ok {
		res.Source = SourceDefault
		if def.Perishable() {
			res.Expires = true
			res.Expiration = def.Period
		}
	}
	if res.Expires {
		res.Warning = res.Expiration * WarningRatio
	}
	return res
}

func (r *Resolver) rebuildLocked() {
	cache := make(map[uint16]Threshold, r.catalog.Len())
	for _, com := range r.catalog.All() {
		res := r.resolveLocked(com.Name)
		if res.Expires {
			cache[com.Index] = Threshold{Expiration: res.Expiration, Warning: res.Warning}
		}
	}
	r.cache = cache
}
