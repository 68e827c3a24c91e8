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

// run dispatches a command. The caller holds e.mu.
func (e *Engine) run(ctx context.Context, cmd Command) (any, string, error) {
	switch c := cmd.(type) {
	case AddBatch:
		return e.addBatch(ctx, c)
	case RemoveBatch:
		return e.removeBatch(ctx, c)
	case SetBatchAge:
		if err := e.reg.SetBatchAge(c.ContainerID, c.BatchIndex, c.Age); err != nil {
			return nil, "", err
		}
		return nil, fmt.Sprintf("Set batch %d of %s to age %.3f", c.BatchIndex, c.ContainerID, c.Age), nil
	case SetAllBatchAges:
		n, err := e.reg.SetAllBatchAges(c.ContainerID, c.Age)
		if err != nil {
			return nil, "", err
		}
		return n, fmt.Sprintf("Set %d batches of %s to age %.3f", n, c.ContainerID, c.Age), nil
	case SimulateAll:
		if !validHours(c.Hours) {
			return nil, "", fmt.Errorf("%w: hours must be positive", ErrInvalidArgument)
		}
		res := e.reg.SimulateHours(c.Hours)
		e.drainExpired(ctx, res.Expirations)
		return res, fmt.Sprintf("Simulated %.1f hours: %d containers, %d batches expired (%.2f)",
			c.Hours, res.ContainersProcessed, res.BatchesExpired, res.AmountExpired), nil
	case SimulateContainer:
		if !validHours(c.Hours) {
			return nil, "", fmt.Errorf("%w: hours must be positive", ErrInvalidArgument)
		}
		res, err := e.reg.SimulateHoursForContainer(c.ContainerID, c.Hours)
		if err != nil {
			return nil, "", err
		}
		e.drainExpired(ctx, res.Expirations)
		return res, fmt.Sprintf("Simulated %.1f hours on %s: %d batches expired (%.2f)",
			c.Hours, c.ContainerID, res.BatchesExpired, res.AmountExpired), nil
	case ForceExpire:
		return e.forceExpire(ctx, c)
	case ForceExpireAll:
		if c.EntityType != 0 && !c.EntityType.Valid() {
			return nil, "", fmt.Errorf("%w: %d", ErrUnknownEntityType, c.EntityType)
		}
		res := e.reg.ForceExpireAll(c.EntityType)
		e.drainExpired(ctx, res.Expirations)
		return res, fmt.Sprintf("Expired %.2f across %d containers", res.TotalExpired, res.ContainersAffected), nil
	case ClearLossLog:
		n := e.reg.ClearLossLog()
		return n, fmt.Sprintf("Cleared %d loss log entries", n), nil
	case Reconcile:
		plan, applied, err := e.recon.ReconcileAll(ctx, reconcile.Options{DryRun: c.DryRun, Policy: e.policy})
		if err != nil {
			return plan, "", err
		}
		s := plan.Summary
		return plan, fmt.Sprintf("Reconciled %d containers (%d skipped): +%.2f / -%.2f, %d corrections applied",
			s.ContainersProcessed, s.ContainersSkipped, s.TotalAdded, s.TotalRemoved, applied), nil
	case ChangeSettings:
		return e.changeSettings(ctx, c)
	default:
		return nil, "", fmt.Errorf("%w: %T", ErrUnknownAction, cmd)
	}
}

func validHours(h float64) bool { return ledger.Finite(h) && h > 0 }

func validAge(a float64) bool { return ledger.Finite(a) && a >= 0 }

func (e *Engine) addBatch(ctx context.Context, c AddBatch) (any, string, error) {
	if !ledger.Finite(c.Amount) || c.Amount < ledger.Epsilon {
		return nil, "", fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	if !validAge(c.Age) {
		return nil, "", fmt.Errorf("%w: age must not be negative", ErrInvalidArgument)
	}
	cont, ok := e.reg.Get(c.ContainerID)
	if !ok {
		return nil, "", registry.ErrContainerNotFound
	}
	amount := c.Amount
	if cont.Bound() {
		actual, err := e.changeFill(ctx, cont, c.FillUnitIndex, c.Amount)
		if err != nil {
			return nil, "", err
		}
		amount = actual
	}
	if err := e.reg.AddBatch(cont.ID, amount, c.Age); err != nil {
		if cont.Bound() {
			e.desync(cont, "add batch", amount, err)
			return nil, "", fmt.Errorf("%w: %v", ErrDesync, err)
		}
		return nil, "", err
	}
	return amount, fmt.Sprintf("Added %.2f (age %.3f) to %s", amount, c.Age, cont.ID), nil
}

func (e *Engine) removeBatch(ctx context.Context, c RemoveBatch) (any, string, error) {
	cont, ok := e.reg.Get(c.ContainerID)
	if !ok {
		return nil, "", registry.ErrContainerNotFound
	}
	if c.BatchIndex < 0 || c.BatchIndex >= len(cont.Batches) {
		return nil, "", registry.ErrBatchNotFound
	}
	batch := cont.Batches[c.BatchIndex]
	if !cont.Bound() {
		if _, err := e.reg.RemoveBatchByIndex(cont.ID, c.BatchIndex); err != nil {
			return nil, "", err
		}
		return batch.Amount, fmt.Sprintf("Removed batch %d (%.2f) from %s", c.BatchIndex, batch.Amount, cont.ID), nil
	}

	actual, err := e.changeFill(ctx, cont, c.FillUnitIndex, -batch.Amount)
	if err != nil {
		return nil, "", err
	}
	removed := -actual
	err = e.reg.Update(cont.ID, func(next *registry.Container) error {
		if c.BatchIndex >= len(next.Batches) {
			return registry.ErrBatchNotFound
		}
		if removed >= next.Batches[c.BatchIndex].Amount-ledger.Epsilon {
			next.Batches = append(next.Batches[:c.BatchIndex], next.Batches[c.BatchIndex+1:]...)
			return nil
		}
		next.Batches[c.BatchIndex].Amount -= removed
		return nil
	})
	if err != nil {
		e.desync(cont, "remove batch", removed, err)
		return nil, "", fmt.Errorf("%w: %v", ErrDesync, err)
	}
	return removed, fmt.Sprintf("Removed %.2f of batch %d from %s", removed, c.BatchIndex, cont.ID), nil
}

func (e *Engine) forceExpire(ctx context.Context, c ForceExpire) (any, string, error) {
	cont, ok := e.reg.Get(c.ContainerID)
	if !ok {
		return nil, "", registry.ErrContainerNotFound
	}
	amount, err := e.reg.ForceExpire(c.ContainerID, c.BatchIndex)
	if err != nil {
		return nil, "", err
	}
	e.drainExpired(ctx, []registry.Expiration{{
		ContainerID: cont.ID,
		EntityType:  cont.EntityType,
		Commodity:   cont.Identity.CommodityName,
		Amount:      amount,
	}})
	return amount, fmt.Sprintf("Expired %.2f from %s", amount, cont.ID), nil
}

// changeFill writes delta to the external fill level with hooks suppressed
// and returns the change actually observed.
func (e *Engine) changeFill(ctx context.Context, c *registry.Container, unit uint8, delta float64) (float64, error) {
	ad, err := e.adapters.For(c.EntityType)
	if err != nil {
		return 0, err
	}
	ref := reconcile.RefOf(c)
	ref.FillUnitIndex = unit

	release := e.suppress(c.Entity)
	defer release()

	before, unitIndex, err := ad.FillLevel(ctx, ref)
	if err != nil {
		return 0, err
	}
	ref.FillUnitIndex = unitIndex
	ok, err := ad.AddFillLevel(ctx, ref, delta)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNoChange
	}
	after, _, err := ad.FillLevel(ctx, ref)
	if err != nil {
		return 0, err
	}
	actual := after - before
	if actual > -ledger.Epsilon && actual < ledger.Epsilon {
		return 0, ErrNoChange
	}
	if (delta > 0) != (actual > 0) {
		e.desync(c, "fill level moved the wrong way", actual, nil)
		return 0, ErrDesync
	}
	return actual, nil
}

// drainExpired removes expired goods from the live entities. Failures are
// drift, logged and left for reconciliation.
func (e *Engine) drainExpired(ctx context.Context, exps []registry.Expiration) {
	for _, x := range exps {
		e.observer.Expired(x.Commodity, x.Amount)
		c, ok := e.reg.Get(x.ContainerID)
		if !ok || !c.Bound() {
			continue
		}
		ad, err := e.adapters.For(c.EntityType)
		if err != nil {
			continue
		}
		release := e.suppress(c.Entity)
		_, err = ad.AddFillLevel(ctx, reconcile.RefOf(c), -x.Amount)
		release()
		if err != nil {
			e.desync(c, "drain expired", x.Amount, err)
		}
	}
}

func (e *Engine) desync(c *registry.Container, op string, amount float64, err error) {
	fields := []zap.Field{
		zap.String("container_id", c.ID),
		zap.String("op", op),
		zap.Float64("amount", amount),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	e.logger.Warn("Ledger desync", fields...)
}

func (e *Engine) changeSettings(ctx context.Context, c ChangeSettings) (any, string, error) {
	if e.resolver == nil {
		return nil, "", errors.New("settings resolver not configured")
	}
	var (
		err error
		msg string
	)
	switch c.Op {
	case SettingsSetExpiration:
		err = e.resolver.SetExpiration(c.Commodity, c.Period)
		msg = fmt.Sprintf("%s now expires after %.1f periods", c.Commodity, c.Period)
	case SettingsSetPerishable:
		err = e.resolver.SetPerishable(c.Commodity, c.Perishable)
		msg = fmt.Sprintf("%s perishable: %t", c.Commodity, c.Perishable)
	case SettingsClearCommodity:
		err = e.resolver.ClearCommodity(c.Commodity)
		msg = fmt.Sprintf("%s override cleared", c.Commodity)
	case SettingsSetGlobal:
		err = e.resolver.SetGlobal(c.Key, c.Value)
		msg = fmt.Sprintf("%s updated", c.Key)
	case SettingsResetAll:
		e.resolver.ResetAll()
		msg = "All overrides reset"
	default:
		err = fmt.Errorf("%w: settings op %d", ErrUnknownAction, c.Op)
	}
	if err != nil {
		return nil, "", err
	}
	n, err := e.rescanLocked(ctx)
	if err != nil {
		e.logger.Warn("Rescan after settings change failed", zap.Error(err))
	}
	if n > 0 {
		msg = fmt.Sprintf("%s (%d new containers tracked)", msg, n)
	}
	return n, msg, nil
}

// ReplaceSettings swaps the whole override layer, as done by a settings
// document upload.
func (e *Engine) ReplaceSettings(ctx context.Context, actor Actor, next settings.Overrides) (Result, error) {
	res := Result{Kind: KindChangeSettings}
	if !actor.Privileged() {
		return e.finish(res, ErrNotPrivileged)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.resolver.Replace(next); err != nil {
		return e.finish(res, err)
	}
	n, err := e.rescanLocked(ctx)
	if err != nil {
		e.logger.Warn("Rescan after settings change failed", zap.Error(err))
	}
	res.Data = n
	res.Message = "Settings replaced"
	return e.finish(res, nil)
}
