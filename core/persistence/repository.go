package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"perishable-ledger/core/registry"
	"perishable-ledger/core/settings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 200

// Repository reads and writes ledger state.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRepository creates a repository over db.
func NewRepository(db *gorm.DB, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, logger: logger}
}

// DB exposes the underlying connection for schema inspection.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Migrate creates or updates the ledger tables.
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate ledger tables: %w", err)
	}
	return nil
}

// SaveState replaces the stored containers, batches, loss log and clock with st.
func (r *Repository) SaveState(ctx context.Context, st registry.State) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&BatchModel{}, &ContainerModel{}, &LossModel{}} {
			if err := tx.Where("1 = 1").Delete(m).Error; err != nil {
				return err
			}
		}

		containers := make([]ContainerModel, 0, len(st.Containers))
		var batches []BatchModel
		for _, c := range st.Containers {
			containers = append(containers, toContainerModel(c))
			batches = append(batches, toBatchModels(c)...)
		}
		if len(containers) > 0 {
			if err := tx.Omit("Batches").CreateInBatches(containers, insertBatchSize).Error; err != nil {
				return err
			}
		}
		if len(batches) > 0 {
			if err := tx.CreateInBatches(batches, insertBatchSize).Error; err != nil {
				return err
			}
		}

		if len(st.Losses) > 0 {
			losses := make([]LossModel, 0, len(st.Losses))
			for i, e := range st.Losses {
				losses = append(losses, toLossModel(i, e))
			}
			if err := tx.CreateInBatches(losses, insertBatchSize).Error; err != nil {
				return err
			}
		}

		meta := MetaModel{Key: metaClockHours, Value: strconv.FormatFloat(st.ClockHours, 'f', -1, 64)}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&meta).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save ledger state: %w", err)
	}

	r.logger.Debug("Ledger state saved",
		zap.Int("containers", len(st.Containers)),
		zap.Int("losses", len(st.Losses)),
	)
	return nil
}

// LoadState reads the stored state. found is false when nothing was ever saved.
func (r *Repository) LoadState(ctx context.Context) (st registry.State, found bool, err error) {
	db := r.db.WithContext(ctx)

	var meta MetaModel
	if err := db.Where("meta_key = ?", metaClockHours).First(&meta).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return registry.State{}, false, nil
		}
		return registry.State{}, false, fmt.Errorf("failed to load ledger clock: %w", err)
	}
	hours, err := strconv.ParseFloat(meta.Value, 64)
	if err != nil {
		return registry.State{}, false, fmt.Errorf("corrupt clock value %q: %w", meta.Value, err)
	}
	st.ClockHours = hours

	var containers []ContainerModel
	err = db.Preload("Batches", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("position ASC")
	}).Order("id ASC").Find(&containers).Error
	if err != nil {
		return registry.State{}, false, fmt.Errorf("failed to load containers: %w", err)
	}
	for _, m := range containers {
		st.Containers = append(st.Containers, m.toContainer())
	}

	var losses []LossModel
	if err := db.Order("seq ASC").Find(&losses).Error; err != nil {
		return registry.State{}, false, fmt.Errorf("failed to load loss log: %w", err)
	}
	for _, m := range losses {
		st.Losses = append(st.Losses, m.toEntry())
	}

	return st, true, nil
}

// SaveOverrides replaces the stored user overrides.
func (r *Repository) SaveOverrides(ctx context.Context, o settings.Overrides) error {
	rows := make([]SettingModel, 0, len(o.Global)+len(o.PerCommodity))
	for k, v := range o.Global {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("setting %s: %w", k, err)
		}
		rows = append(rows, SettingModel{Scope: ScopeGlobal, Key: k, Value: string(raw)})
	}
	for name, ov := range o.PerCommodity {
		raw, err := json.Marshal(ov)
		if err != nil {
			return fmt.Errorf("override %s: %w", name, err)
		}
		rows = append(rows, SettingModel{Scope: ScopeCommodity, Key: name, Value: string(raw)})
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&SettingModel{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save overrides: %w", err)
	}
	return nil
}

// LoadOverrides reads the stored user overrides. Rows that no longer decode are skipped with a warning.
func (r *Repository) LoadOverrides(ctx context.Context) (settings.Overrides, error) {
	var rows []SettingModel
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return settings.Overrides{}, fmt.Errorf("failed to load overrides: %w", err)
	}

	out := settings.NewOverrides()
	for _, row := range rows {
		var err error
		switch row.Scope {
		case ScopeGlobal:
			var v settings.Value
			if err = json.Unmarshal([]byte(row.Value), &v); err == nil {
				out.Global[row.Key] = v
			}
		case ScopeCommodity:
			var ov settings.CommodityOverride
			if err = json.Unmarshal([]byte(row.Value), &ov); err == nil {
				out.PerCommodity[row.Key] = ov
			}
		default:
			err = fmt.Errorf("unknown scope %q", row.Scope)
		}
		if err != nil {
			r.logger.Warn("Skipping stored override", zap.String("key", row.Key), zap.Error(err))
		}
	}
	return out, nil
}
