// Package reconcile aligns ledger totals with the fill levels reported by
// the game side.
//
// The ledger tracks what it was told; the game tracks what is actually in
// each tank, pallet or bale. The two drift whenever goods move without going
// through a ledger hook. Reconciliation compares both and corrects the ledger.
//
// # Architecture
//
// 1. Adapter: one implementation per entity type (vehicle, bale, placeable,
// husbandry food, stored) exposing FillLevel and AddFillLevel. Adapters
// are registered in an Adapters table keyed by entity type.
//
// 2. Engine: builds a Plan by reading the reported fill of every bound
// container, then applies it to the registry. Containers without a live
// entity binding, or whose adapter no longer knows the entity, are skipped.
//
// 3. Policy: what to do with drift is configurable. TrustExternal (the
// default) moves the ledger to the reported level: a shortfall becomes a
// new zero-age batch, a surplus is consumed FIFO from the oldest batches.
// ReportOnly plans the same actions but never applies them.
//
// Concurrent ReconcileAll calls are coalesced with singleflight so a burst of
// admin requests results in one pass.
//
// # Usage Example
//
//	adapters := reconcile.NewAdapters()
//	adapters.Register(registry.EntityVehicle, reconcile.NewMemoryAdapter(registry.EntityVehicle))
//	engine := reconcile.NewEngine(reg, adapters, logger)
//
//	plan, applied, err := engine.ReconcileAll(ctx, reconcile.Options{Policy: reconcile.TrustExternal})
package reconcile
