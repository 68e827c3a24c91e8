package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"perishable-ledger/core/catalog"
	"perishable-ledger/core/command"
	"perishable-ledger/core/config"
	"perishable-ledger/core/database"
	"perishable-ledger/core/logger"
	"perishable-ledger/core/metrics"
	"perishable-ledger/core/persistence"
	"perishable-ledger/core/reconcile"
	"perishable-ledger/core/registry"
	"perishable-ledger/core/scheduler"
	"perishable-ledger/core/settings"
	"perishable-ledger/core/snapshot"
	"perishable-ledger/core/storage"
	"perishable-ledger/feature/replication"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// runtime is the wired ledger service, shared by start and its tests.
type runtime struct {
	cfg       *config.Config
	logger    *zap.Logger
	engine    *command.Engine
	recorder  *metrics.Recorder
	db        *gorm.DB
	repo      *persistence.Repository
	snapshots *snapshot.Store
	hub       *replication.Hub
	scheduler *scheduler.Scheduler
}

// bootstrap builds every component from cfg and restores persisted state.
// The database and the snapshot store are optional: a failure to reach
// either is logged and the service runs without it.
func bootstrap(ctx context.Context, cfg *config.Config, logg *zap.Logger) (*runtime, error) {
	cat, err := catalog.Load(cfg.Ledger.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	logg.Info("Loaded commodity catalog", zap.Int("commodities", cat.Len()))

	policy, err := reconcile.ParseDriftPolicy(cfg.Ledger.DriftPolicy)
	if err != nil {
		return nil, err
	}

	resolver := settings.NewResolver(cat, logger.Component(logg, "settings"))
	reg := registry.New(registry.Options{
		Catalog:        cat,
		Thresholds:     resolver,
		Clock:          registry.NewClock(cfg.Ledger.DaysPerPeriod),
		LossLogLimit:   cfg.Ledger.LossLogLimit,
		MergeThreshold: cfg.Ledger.MergeThreshold,
		Logger:         logger.Component(logg, "registry"),
	})

	adapters := reconcile.NewAdapters()
	for _, t := range registry.EntityTypes {
		adapters.Register(t, reconcile.NewMemoryAdapter(t))
	}

	rt := &runtime{cfg: cfg, logger: logg, recorder: metrics.New()}
	rt.engine = command.NewEngine(command.Options{
		Registry:       reg,
		Resolver:       resolver,
		Adapters:       adapters,
		DriftPolicy:    policy,
		MergeThreshold: cfg.Ledger.MergeThreshold,
		Observer:       rt.recorder,
		Logger:         logger.Component(logg, "engine"),
	})

	if db, err := database.Connect(cfg.Database); err != nil {
		logg.Warn("Optional database connection failed", zap.Error(err))
	} else {
		rt.db = db
		rt.repo = persistence.NewRepository(db, logger.Component(logg, "persistence"))
		if err := rt.repo.Migrate(ctx); err != nil {
			return nil, err
		}
		logg.Info("Connected to ledger database", zap.String("driver", cfg.Database.Driver))
	}

	if err := rt.restore(ctx); err != nil {
		return nil, err
	}

	if cfg.Storage.Enabled() {
		if client, err := storage.NewClient(cfg.Storage); err != nil {
			logg.Warn("Snapshot storage unavailable", zap.Error(err))
		} else if store, err := snapshot.NewStore(client, cfg.Storage.Bucket, logger.Component(logg, "snapshot")); err != nil {
			return nil, err
		} else if err := store.EnsureBucket(ctx); err != nil {
			logg.Warn("Snapshot bucket unavailable", zap.Error(err))
		} else {
			rt.snapshots = store
		}
	}

	rt.hub = replication.NewHub(rt.engine, replication.Config{AdminToken: cfg.Server.AdminToken}, rt.recorder, logger.Component(logg, "replication"))
	rt.hub.Attach()

	rt.scheduler = scheduler.New(logger.Component(logg, "scheduler"))
	if err := rt.scheduler.AddTick(cfg.Ledger.TickSchedule, rt.engine, cfg.Ledger.HoursPerTick, rt.recorder); err != nil {
		return nil, err
	}
	if err := rt.scheduler.Add("snapshot", cfg.Ledger.SnapshotSchedule, rt.persist); err != nil {
		return nil, err
	}
	return rt, nil
}

// restore loads overrides then state, so perishability is known before
// containers are rebuilt.
func (rt *runtime) restore(ctx context.Context) error {
	overrides := settings.NewOverrides()
	if rt.repo != nil {
		o, err := rt.repo.LoadOverrides(ctx)
		if err != nil {
			return err
		}
		overrides = o
	}
	if len(overrides.Global) == 0 && len(overrides.PerCommodity) == 0 && rt.cfg.Ledger.OverridesPath != "" {
		raw, err := os.ReadFile(rt.cfg.Ledger.OverridesPath)
		if err != nil {
			return fmt.Errorf("failed to read overrides: %w", err)
		}
		if overrides, err = settings.ParseDocument(raw); err != nil {
			return err
		}
		rt.logger.Info("Seeded overrides from file", zap.String("path", rt.cfg.Ledger.OverridesPath))
	}
	if _, ok := overrides.Global[settings.KeyWarningHours]; !ok && rt.cfg.Ledger.WarningHours > 0 {
		overrides.Global[settings.KeyWarningHours] = settings.NumberValue(float32(rt.cfg.Ledger.WarningHours))
	}
	if _, err := rt.engine.ReplaceSettings(ctx, command.HostActor, overrides); err != nil {
		return fmt.Errorf("failed to apply overrides: %w", err)
	}

	if rt.repo == nil {
		return nil
	}
	st, found, err := rt.repo.LoadState(ctx)
	if err != nil {
		return err
	}
	if !found {
		rt.logger.Info("No persisted ledger state, starting empty")
		return nil
	}
	if _, err := rt.engine.Restore(ctx, st); err != nil {
		return err
	}
	rt.logger.Info("Restored ledger state",
		zap.Int("containers", len(st.Containers)),
		zap.Float64("clock_hours", st.ClockHours),
	)
	return nil
}

// persist writes state to the database and archives a snapshot. Both
// targets run even when the first fails.
func (rt *runtime) persist(ctx context.Context) error {
	var errs []error
	if rt.repo != nil {
		var st registry.State
		var o settings.Overrides
		rt.engine.Observe(func(s registry.State, ov settings.Overrides) { st, o = s, ov })
		err := errors.Join(rt.repo.SaveState(ctx, st), rt.repo.SaveOverrides(ctx, o))
		rt.recorder.Snapshot("database", err == nil)
		errs = append(errs, err)
	}
	if rt.snapshots != nil {
		_, err := rt.snapshots.Save(ctx, rt.engine.Registry())
		rt.recorder.Snapshot("storage", err == nil)
		if err == nil {
			_, err = rt.snapshots.Prune(ctx, rt.cfg.Storage.Keep)
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// shutdown saves a final state and stops background work.
func (rt *runtime) shutdown(ctx context.Context) {
	rt.scheduler.Stop()
	rt.hub.Close()
	if err := rt.persist(ctx); err != nil {
		rt.logger.Error("Final save failed", zap.Error(err))
	}
	if rt.db != nil {
		if sqlDB, err := rt.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
