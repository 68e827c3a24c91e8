package command

import (
	"context"
	"errors"
	"fmt"

	"perishable-ledger/core/ledger"
	"perishable-ledger/core/reconcile"
	"perishable-ledger/core/registry"
	"perishable-ledger/core/settings"

	"go.uber.org/zap"
)

// onFillChange is the automatic hook installed on memory adapters.
func (e *Engine) onFillChange(ctx context.Context, obs reconcile.Observation) {
	if e.Suppressed(obs.Entity) {
		return
	}
	if _, err := e.ReportFill(ctx, obs); err != nil {
		e.logger.Warn("Fill hook failed",
			zap.Uint32("entity", uint32(obs.Entity)),
			zap.Error(err),
		)
	}
}

// FillOutcome describes what a fill observation did to the ledger.
type FillOutcome string

const (
	FillIgnored      FillOutcome = "ignored"
	FillRegistered   FillOutcome = "registered"
	FillAdded        FillOutcome = "added"
	FillConsumed     FillOutcome = "consumed"
	FillUnregistered FillOutcome = "unregistered"
	FillSuppressed   FillOutcome = "suppressed"
	FillRebound      FillOutcome = "rebound"
)

// ReportFill books a fill level change observed on the game side. The first
// observation of a perishable commodity registers a container, increases
// add a zero-age batch, decreases consume FIFO and an empty entity
// unregisters its container.
func (e *Engine) ReportFill(ctx context.Context, obs reconcile.Observation) (FillOutcome, error) {
	if e.Suppressed(obs.Entity) {
		return FillSuppressed, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out, err := e.reportFillLocked(ctx, obs)
	e.observer.Containers(e.reg.Len())
	return out, err
}

func (e *Engine) reportFillLocked(ctx context.Context, obs reconcile.Observation) (FillOutcome, error) {
	if obs.Entity == registry.Unresolved {
		return FillIgnored, fmt.Errorf("%w: observation without entity", ErrInvalidArgument)
	}
	if !ledger.Finite(obs.Amount) || !ledger.Finite(obs.Previous) {
		return FillIgnored, fmt.Errorf("%w: fill level is not a finite number", ErrInvalidArgument)
	}
	id, tracked := e.reg.FindByEntity(obs.Entity)
	if tracked {
		c, ok := e.reg.Get(id)
		if ok && c.CommodityIndex == obs.CommodityIndex {
			return e.applyDelta(c, obs)
		}
		if ok {
			held, err := e.stillHolds(ctx, c)
			if err != nil {
				return FillIgnored, err
			}
			if held {
				e.logger.Warn("Ignoring second commodity reported on another fill unit",
					zap.String("container", c.ID),
					zap.Uint8("fill_unit", obs.FillUnitIndex),
					zap.Uint16("commodity", obs.CommodityIndex),
				)
				return FillIgnored, nil
			}
		}
		// The tracked unit now holds a different commodity; the old goods are gone.
		if err := e.reg.Unregister(id); err != nil {
			return FillIgnored, err
		}
	}
	if !tracked {
		if c, ok := e.rebind(obs); ok {
			return e.applyLevel(c, obs)
		}
	}
	if obs.Amount < ledger.Epsilon || e.resolver == nil || !e.resolver.IsPerishable(obs.CommodityIndex) {
		if tracked {
			return FillUnregistered, nil
		}
		return FillIgnored, nil
	}
	if obs.WorldObjectID == "" {
		e.logger.Warn("Fill report without world object id, container cannot be rebound after a restart",
			zap.Uint32("entity", uint32(obs.Entity)),
		)
	}
	if _, err := e.register(obs); err != nil {
		return FillIgnored, err
	}
	return FillRegistered, nil
}

// stillHolds reports whether the entity still carries the tracked commodity
// on any of its fill units.
func (e *Engine) stillHolds(ctx context.Context, c *registry.Container) (bool, error) {
	ad, err := e.adapters.For(c.EntityType)
	if err != nil {
		return false, nil
	}
	level, _, err := ad.FillLevel(ctx, reconcile.RefOf(c))
	switch {
	case errors.Is(err, reconcile.ErrEntityGone):
		return false, nil
	case err != nil:
		return false, err
	}
	return level >= ledger.Epsilon, nil
}

func (e *Engine) applyDelta(c *registry.Container, obs reconcile.Observation) (FillOutcome, error) {
	if obs.Amount < ledger.Epsilon {
		if err := e.reg.Unregister(c.ID); err != nil {
			return FillIgnored, err
		}
		return FillUnregistered, nil
	}
	delta := obs.Delta()
	switch {
	case delta >= ledger.Epsilon:
		if err := e.reg.AddBatch(c.ID, delta, 0); err != nil {
			return FillIgnored, err
		}
		return FillAdded, nil
	case delta <= -ledger.Epsilon:
		if _, err := e.reg.ConsumeFIFO(c.ID, -delta); err != nil {
			return FillIgnored, err
		}
		return FillConsumed, nil
	default:
		return FillIgnored, nil
	}
}

// applyLevel books the difference between an absolute level and the ledger
// total, used when a persisted container is re-attached to its entity.
// Under report_only the difference is left for reconciliation to report.
func (e *Engine) applyLevel(c *registry.Container, obs reconcile.Observation) (FillOutcome, error) {
	if e.policy != reconcile.TrustExternal {
		return FillRebound, nil
	}
	obs.Previous = c.Total()
	out, err := e.applyDelta(c, obs)
	if err == nil && out == FillIgnored {
		return FillRebound, nil
	}
	return out, err
}

// rebind attaches an unbound container with the same world object identity
// and commodity to the observed entity.
func (e *Engine) rebind(obs reconcile.Observation) (*registry.Container, bool) {
	if obs.WorldObjectID == "" {
		return nil, false
	}
	for _, c := range e.reg.List(registry.Filter{EntityType: obs.EntityType, CommodityIndex: obs.CommodityIndex}) {
		if c.Bound() || c.Identity.WorldObjectID != obs.WorldObjectID {
			continue
		}
		if err := e.reg.BindEntity(c.ID, obs.Entity); err != nil {
			e.logger.Warn("Rebind failed", zap.String("container", c.ID), zap.Error(err))
			return nil, false
		}
		c.Entity = obs.Entity
		return c, true
	}
	return nil, false
}

func (e *Engine) register(obs reconcile.Observation) (string, error) {
	return e.reg.Register(registry.Container{
		EntityType:     obs.EntityType,
		FarmID:         obs.FarmID,
		CommodityIndex: obs.CommodityIndex,
		Entity:         obs.Entity,
		Identity:       registry.Identity{WorldObjectID: obs.WorldObjectID},
		Metadata:       registry.Metadata{LocationLabel: obs.Location},
		Batches:        []ledger.Batch{ledger.New(obs.Amount, 0)},
	})
}

// Rescan registers containers for entities holding a perishable commodity
// that is not yet tracked, typically after a commodity became perishable.
func (e *Engine) Rescan(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rescanLocked(ctx)
}

func (e *Engine) rescanLocked(ctx context.Context) (int, error) {
	obs, err := e.adapters.Scan(ctx)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, o := range obs {
		if o.Amount < ledger.Epsilon || !e.resolver.IsPerishable(o.CommodityIndex) {
			continue
		}
		if _, tracked := e.reg.FindByEntity(o.Entity); tracked {
			continue
		}
		if c, ok := e.rebind(o); ok {
			if _, err := e.applyLevel(c, o); err != nil {
				e.logger.Warn("Rescan level correction failed", zap.String("container", c.ID), zap.Error(err))
			}
			continue
		}
		if _, err := e.register(o); err != nil {
			e.logger.Warn("Rescan register failed", zap.Uint32("entity", uint32(o.Entity)), zap.Error(err))
			continue
		}
		added++
	}
	if added > 0 {
		e.logger.Info("Rescan tracked new containers", zap.Int("count", added))
	}
	return added, nil
}

// Tick advances the game clock by hours, ages every container, drains what
// expired from the live entities and merges similar batches.
func (e *Engine) Tick(ctx context.Context, hours float64) registry.SimulateResult {
	if !validHours(hours) {
		e.logger.Warn("Ignoring tick with invalid hours", zap.Float64("hours", hours))
		return registry.SimulateResult{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reg.Clock().Advance(hours)
	res := e.reg.SimulateHours(hours)
	e.drainExpired(ctx, res.Expirations)
	merged := e.reg.MergeAll(e.mergeThreshold)
	e.observer.Containers(e.reg.Len())
	e.logger.Debug("Tick simulated",
		zap.Float64("hours", hours),
		zap.Int("containers", res.ContainersProcessed),
		zap.Int("expired_batches", res.BatchesExpired),
		zap.Int("merged", merged),
	)
	return res
}

// EntityRemoved drops the weak binding of a destroyed entity. The container
// and its batches stay; reconciliation reports them as skipped.
func (e *Engine) EntityRemoved(h registry.EntityHandle) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg.InvalidateEntity(h)
}

// Observe runs fn with a registry snapshot and the current overrides while
// no mutation can interleave, so a new replica can attach between two deltas.
func (e *Engine) Observe(fn func(st registry.State, o settings.Overrides)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.reg.Snapshot(), e.resolver.Overrides())
}

// Restore replaces the registry content, typically with persisted state,
// and tracks any perishable entity the restored state does not cover.
func (e *Engine) Restore(ctx context.Context, st registry.State) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reg.Restore(st)
	n, err := e.rescanLocked(ctx)
	e.observer.Containers(e.reg.Len())
	return n, err
}
