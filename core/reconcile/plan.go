package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"

	"perishable-ledger/core/ledger"
	"perishable-ledger/core/registry"
)

// buildResult reads the reported level of one container.
func (e *Engine) buildResult(ctx context.Context, c *registry.Container) Result {
	res := Result{
		ContainerID: c.ID,
		EntityType:  c.EntityType.String(),
		Commodity:   c.Identity.CommodityName,
		LedgerTotal: c.Total(),
	}
	if !c.Bound() {
		res.Skipped = true
		res.Reason = "no entity binding"
		return res
	}
	ad, err := e.adapters.For(c.EntityType)
	if err != nil {
		res.Skipped = true
		res.Reason = err.Error()
		return res
	}
	amount, _, err := ad.FillLevel(ctx, RefOf(c))
	if err != nil {
		res.Skipped = true
		if errors.Is(err, ErrEntityGone) {
			res.Reason = "entity gone"
		} else {
			res.Reason = err.Error()
		}
		return res
	}
	res.ReportedFill = amount
	res.Drift = amount - res.LedgerTotal
	return res
}

// planFromResults turns results into corrections and a summary.
func planFromResults(results []Result, opts Options) *Plan {
	tolerance := opts.Tolerance
	if tolerance <= 0 {
		tolerance = ledger.Epsilon
	}
	policy := opts.Policy
	if policy == "" {
		policy = TrustExternal
	}
	plan := &Plan{Results: results, Actions: []Action{}, Policy: policy}
	for _, r := range results {
		if r.Skipped {
			plan.Summary.ContainersSkipped++
			continue
		}
		plan.Summary.ContainersProcessed++
		switch {
		case math.Abs(r.Drift) < tolerance:
			plan.Summary.InSync++
		case r.Drift > 0:
			plan.Actions = append(plan.Actions, Action{
				Type:        ActionAddBatch,
				ContainerID: r.ContainerID,
				Amount:      r.Drift,
				Reason:      fmt.Sprintf("reported %.3f, ledger %.3f", r.ReportedFill, r.LedgerTotal),
			})
			plan.Summary.TotalAdded += r.Drift
		default:
			plan.Actions = append(plan.Actions, Action{
				Type:        ActionConsume,
				ContainerID: r.ContainerID,
				Amount:      -r.Drift,
				Reason:      fmt.Sprintf("ledger %.3f ahead of reported %.3f", r.LedgerTotal, r.ReportedFill),
			})
			plan.Summary.TotalRemoved += -r.Drift
		}
	}
	return plan
}

// apply executes the planned corrections against the registry. A container
// that vanished since planning is skipped, and one drained to zero is
// unregistered like an emptied entity.
func (e *Engine) apply(plan *Plan) (int, error) {
	applied := 0
	var errs []error
	for _, a := range plan.Actions {
		var err error
		switch a.Type {
		case ActionAddBatch:
			err = e.reg.AddBatch(a.ContainerID, a.Amount, 0)
		case ActionConsume:
			_, err = e.reg.ConsumeFIFO(a.ContainerID, a.Amount)
			if err == nil {
				err = e.unregisterIfEmpty(a.ContainerID, &plan.Summary)
			}
		default:
			err = fmt.Errorf("unknown action %q", a.Type)
		}
		if errors.Is(err, registry.ErrContainerNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", a.Type, a.ContainerID, err))
			continue
		}
		applied++
	}
	plan.Applied = applied > 0
	return applied, errors.Join(errs...)
}

func (e *Engine) unregisterIfEmpty(id string, s *Summary) error {
	c, ok := e.reg.Get(id)
	if !ok || c.Total() >= ledger.Epsilon {
		return nil
	}
	if err := e.reg.Unregister(id); err != nil {
		return err
	}
	s.Unregistered++
	return nil
}
