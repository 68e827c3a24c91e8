package audit

import (
	"context"

	"perishable-ledger/core/command"
	"perishable-ledger/core/reconcile"
	"perishable-ledger/core/registry"
	"perishable-ledger/core/settings"
	"perishable-ledger/core/snapshot"
	"perishable-ledger/feature/audit/checks"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service handles audit checks.
type Service struct {
	engine    *command.Engine
	db        *gorm.DB
	snapshots *snapshot.Store
	logger    *zap.Logger
}

// NewService creates a new audit service. db and snapshots may be nil.
func NewService(engine *command.Engine, db *gorm.DB, snapshots *snapshot.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		engine:    engine,
		db:        db,
		snapshots: snapshots,
		logger:    logger,
	}
}

// CheckLedger verifies the registry invariants on a consistent snapshot.
func (s *Service) CheckLedger() *checks.LedgerReport {
	reg := s.engine.Registry()
	var report *checks.LedgerReport
	s.engine.Observe(func(st registry.State, _ settings.Overrides) {
		report = checks.CheckLedger(st, reg, reg.Catalog(), s.engine.Resolver())
	})
	return report
}

// CheckSchema verifies the database schema.
func (s *Service) CheckSchema() (*checks.SchemaReport, error) {
	return checks.CheckSchema(s.db)
}

// CheckSnapshot verifies the newest snapshot.
func (s *Service) CheckSnapshot(ctx context.Context) (*checks.SnapshotReport, error) {
	return checks.CheckSnapshot(ctx, s.snapshots)
}

// CheckDrift compares ledger totals with reported fill levels without changing anything.
func (s *Service) CheckDrift(ctx context.Context) (*reconcile.Plan, error) {
	return s.engine.Reconciler().Plan(ctx, reconcile.Options{DryRun: true, Policy: reconcile.ReportOnly})
}
