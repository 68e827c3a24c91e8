package ledger

import "fmt"

// Config holds the ledger service settings.
type Config struct {
	// DaysPerPeriod converts game hours to periods (one period = DaysPerPeriod*24 hours).
	DaysPerPeriod int `mapstructure:"days_per_period" default:"1"`
	// TickSchedule is the cron expression driving time simulation. Empty disables ticks.
	TickSchedule string `mapstructure:"tick_schedule" default:"@every 1m"`
	// HoursPerTick is the amount of game time simulated on each tick.
	HoursPerTick float64 `mapstructure:"hours_per_tick" default:"1"`
	// SnapshotSchedule is the cron expression for persisting and archiving state. Empty disables it.
	SnapshotSchedule string `mapstructure:"snapshot_schedule" default:"@every 15m"`
	// CatalogPath optionally replaces the built-in commodity catalog.
	CatalogPath string `mapstructure:"catalog_path" default:""`
	// OverridesPath optionally seeds user overrides from a JSON document.
	OverridesPath string `mapstructure:"overrides_path" default:""`
	// LossLogLimit bounds the loss log.
	LossLogLimit int `mapstructure:"loss_log_limit" default:"500"`
	// MergeThreshold is the age difference under which batches are merged after a tick.
	MergeThreshold float64 `mapstructure:"merge_threshold" default:"0.01"`
	// DriftPolicy is trust_external or report_only.
	DriftPolicy string `mapstructure:"drift_policy" default:"trust_external"`
	// WarningHours is the default near-expiration warning window.
	WarningHours float64 `mapstructure:"warning_hours" default:"24"`
}

// Validate rejects values that would make time simulation meaningless.
func (c Config) Validate() error {
	if c.DaysPerPeriod <= 0 {
		return fmt.Errorf("ledger.days_per_period must be positive, got %d", c.DaysPerPeriod)
	}
	if !Finite(c.HoursPerTick) || c.HoursPerTick < 0 {
		return fmt.Errorf("ledger.hours_per_tick must not be negative, got %g", c.HoursPerTick)
	}
	if !Finite(c.MergeThreshold) || c.MergeThreshold < 0 {
		return fmt.Errorf("ledger.merge_threshold must not be negative, got %g", c.MergeThreshold)
	}
	if !Finite(c.WarningHours) || c.WarningHours < 0 {
		return fmt.Errorf("ledger.warning_hours must not be negative, got %g", c.WarningHours)
	}
	if c.LossLogLimit < 0 {
		return fmt.Errorf("ledger.loss_log_limit must not be negative, got %d", c.LossLogLimit)
	}
	return nil
}
