package reconcile

import (
	"context"
	"fmt"

	"perishable-ledger/core/registry"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Engine reconciles registry containers against adapter fill levels.
type Engine struct {
	reg      *registry.Registry
	adapters *Adapters
	sf       singleflight.Group
	logger   *zap.Logger
}

// NewEngine creates an engine.
func NewEngine(reg *registry.Registry, adapters *Adapters, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{reg: reg, adapters: adapters, logger: logger}
}

// Adapters returns the adapter table.
func (e *Engine) Adapters() *Adapters {
	return e.adapters
}

// Plan compares every container with its reported fill level without
// changing anything.
func (e *Engine) Plan(ctx context.Context, opts Options) (*Plan, error) {
	containers := e.reg.List(registry.Filter{})
	results := make([]Result, 0, len(containers))
	for _, c := range containers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results = append(results, e.buildResult(ctx, c))
	}
	return planFromResults(results, opts), nil
}

// ReconcileAll plans and, unless the options say otherwise, applies the
// corrections. Concurrent calls with the same mode share one run.
func (e *Engine) ReconcileAll(ctx context.Context, opts Options) (*Plan, int, error) {
	key := fmt.Sprintf("all|%t|%s", opts.mutates(), opts.Policy)
	type outcome struct {
		plan    *Plan
		applied int
	}
	v, err, shared := e.sf.Do(key, func() (interface{}, error) {
		plan, err := e.Plan(ctx, opts)
		if err != nil {
			return nil, err
		}
		applied := 0
		if opts.mutates() {
			applied, err = e.apply(plan)
		}
		return outcome{plan: plan, applied: applied}, err
	})
	if v == nil {
		return nil, 0, err
	}
	out := v.(outcome)
	e.logger.Info("Reconciliation finished",
		zap.Int("processed", out.plan.Summary.ContainersProcessed),
		zap.Int("skipped", out.plan.Summary.ContainersSkipped),
		zap.Float64("added", out.plan.Summary.TotalAdded),
		zap.Float64("removed", out.plan.Summary.TotalRemoved),
		zap.Int("applied", out.applied),
		zap.Bool("shared", shared),
		zap.String("policy", string(out.plan.Policy)),
	)
	return out.plan, out.applied, err
}

// ReconcileOne reconciles a single container.
func (e *Engine) ReconcileOne(ctx context.Context, id string, opts Options) (*Plan, int, error) {
	c, ok := e.reg.Get(id)
	if !ok {
		return nil, 0, registry.ErrContainerNotFound
	}
	plan := planFromResults([]Result{e.buildResult(ctx, c)}, opts)
	if !opts.mutates() {
		return plan, 0, nil
	}
	applied, err := e.apply(plan)
	return plan, applied, err
}
