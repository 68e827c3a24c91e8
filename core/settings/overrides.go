package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

const (
	// MinPeriod and MaxPeriod bound user expiration overrides, in periods.
	MinPeriod = 1.0
	MaxPeriod = 60.0

	// WarningRatio is the fraction of the expiration at which warnings start.
	WarningRatio = 0.75
)

var (
	// ErrPeriodOutOfRange is returned when an expiration override is outside [MinPeriod, MaxPeriod].
	ErrPeriodOutOfRange = errors.New("expiration period out of range")
	// ErrUnknownCommodity is returned for names missing from the catalog.
	ErrUnknownCommodity = errors.New("unknown commodity")
	// ErrUnknownSetting is returned for global keys that are not recognised.
	ErrUnknownSetting = errors.New("unknown setting")
	// ErrWrongKind is returned when a global value has the wrong type.
	ErrWrongKind = errors.New("wrong setting type")
)

// Global setting keys.
const (
	KeyEnabled          = "enabled"
	KeyShowWarnings     = "show_warnings"
	KeyWarningHours     = "warning_hours"
	KeyNotificationMode = "notification_mode"
)

// GlobalKinds lists every recognised global key with its type.
var GlobalKinds = map[string]ValueKind{
	KeyEnabled:          KindBool,
	KeyShowWarnings:     KindBool,
	KeyWarningHours:     KindNumber,
	KeyNotificationMode: KindString,
}

// CommodityOverride is either "does not expire" (Expires=false) or a period.
type CommodityOverride struct {
	Expires bool
	Period  float32
}

// DoesNotExpire is the override that disables expiration.
func DoesNotExpire() CommodityOverride { return CommodityOverride{} }

// ExpiresAfter is the override that sets a period.
func ExpiresAfter(period float32) CommodityOverride {
	return CommodityOverride{Expires: true, Period: period}
}

type overrideJSON struct {
	Expires *bool    `json:"expires,omitempty"`
	Period  *float32 `json:"period,omitempty"`
}

// MarshalJSON renders {"expires":false} or {"period":X}.
func (o CommodityOverride) MarshalJSON() ([]byte, error) {
	if !o.Expires {
		f := false
		return json.Marshal(overrideJSON{Expires: &f})
	}
	p := o.Period
	return json.Marshal(overrideJSON{Period: &p})
}

// UnmarshalJSON accepts {"expires":false} or {"period":X}.
func (o *CommodityOverride) UnmarshalJSON(data []byte) error {
	var raw overrideJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Period != nil {
		*o = ExpiresAfter(*raw.Period)
		return nil
	}
	if raw.Expires != nil && !*raw.Expires {
		*o = DoesNotExpire()
		return nil
	}
	return fmt.Errorf("override needs either period or expires=false")
}

// Overrides is the user layer: global values plus per-commodity overrides.
type Overrides struct {
	Global       map[string]Value             `json:"global"`
	PerCommodity map[string]CommodityOverride `json:"per_commodity"`
}

// NewOverrides returns empty overrides.
func NewOverrides() Overrides {
	return Overrides{
		Global:       make(map[string]Value),
		PerCommodity: make(map[string]CommodityOverride),
	}
}

// Clone deep-copies the overrides.
func (o Overrides) Clone() Overrides {
	out := NewOverrides()
	for k, v := range o.Global {
		out.Global[k] = v
	}
	for k, v := range o.PerCommodity {
		out.PerCommodity[k] = v
	}
	return out
}

// ValidatePeriod checks a user expiration period against the allowed range.
func ValidatePeriod(period float64) error {
	if !(period >= MinPeriod && period <= MaxPeriod) {
		return fmt.Errorf("%w: %.2f not in [%.0f, %.0f]", ErrPeriodOutOfRange, period, MinPeriod, MaxPeriod)
	}
	return nil
}

// ValidateGlobal checks a global key and value type.
func ValidateGlobal(key string, v Value) error {
	kind, ok := GlobalKinds[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	if kind != v.Kind {
		return fmt.Errorf("%w: %s expects %s, got %s", ErrWrongKind, key, kind, v.Kind)
	}
	if kind == KindNumber && (math.IsNaN(float64(v.Number)) || math.IsInf(float64(v.Number), 0)) {
		return fmt.Errorf("%w: %s is not a finite number", ErrWrongKind, key)
	}
	return nil
}
