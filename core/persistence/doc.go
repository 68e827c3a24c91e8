// Package persistence stores ledger state in a relational database via GORM.
//
// The registry is the source of truth while the service runs; this package
// writes a full copy of it on a schedule and at shutdown, and reads it back
// at startup. Every save replaces the previous copy inside one transaction,
// so a crash mid-save leaves the last complete state in place.
//
// # Tables
//
//   - ledger_containers: one row per tracked container (identity, owner, commodity).
//   - ledger_batches: FIFO batches, ordered by position within a container.
//   - ledger_losses: the bounded loss log, oldest first.
//   - ledger_settings: user overrides, one row per global key or commodity.
//   - ledger_meta: scalar state such as the game clock.
//
// Entity handles are never stored; they are re-bound by live fill reports.
//
// # Usage
//
//	repo := persistence.NewRepository(db, logger)
//	if err := repo.Migrate(ctx); err != nil { ... }
//	st, found, err := repo.LoadState(ctx)
//	if found {
//	    reg.Restore(st)
//	}
package persistence
