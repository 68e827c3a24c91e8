package command

import (
	"fmt"

	"perishable-ledger/core/registry"
	"perishable-ledger/core/settings"
)

// Kind tags a command variant. The zero value is never a valid command.
type Kind uint8

const (
	KindAddBatch Kind = iota + 1
	KindRemoveBatch
	KindSetBatchAge
	KindSetAllBatchAges
	KindSimulateAll
	KindSimulateContainer
	KindForceExpire
	KindForceExpireAll
	KindClearLossLog
	KindReconcile
	KindChangeSettings
)

var kindNames = map[Kind]string{
	KindAddBatch:          "addBatch",
	KindRemoveBatch:       "removeBatch",
	KindSetBatchAge:       "setBatchAge",
	KindSetAllBatchAges:   "setAllBatchAges",
	KindSimulateAll:       "simulateAll",
	KindSimulateContainer: "simulateContainer",
	KindForceExpire:       "forceExpire",
	KindForceExpireAll:    "forceExpireAll",
	KindClearLossLog:      "clearLossLog",
	KindReconcile:         "reconcile",
	KindChangeSettings:    "changeSettings",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k names a command variant.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind parses a command name as used by the HTTP API.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Command is one of the closed set of mutating operations.
type Command interface {
	Kind() Kind
	sealed()
}

// AddBatch adds amount of age to a container. When the container is bound
// to a live entity the external fill level is raised first.
type AddBatch struct {
	ContainerID   string  `json:"container_id"`
	FillUnitIndex uint8   `json:"fill_unit_index"`
	Amount        float64 `json:"amount"`
	Age           float64 `json:"age"`
}

// RemoveBatch removes one batch by index.
type RemoveBatch struct {
	ContainerID   string `json:"container_id"`
	FillUnitIndex uint8  `json:"fill_unit_index"`
	BatchIndex    int    `json:"batch_index"`
}

// SetBatchAge overwrites one batch age.
type SetBatchAge struct {
	ContainerID string  `json:"container_id"`
	BatchIndex  int     `json:"batch_index"`
	Age         float64 `json:"age"`
}

// SetAllBatchAges overwrites every batch age in a container.
type SetAllBatchAges struct {
	ContainerID string  `json:"container_id"`
	Age         float64 `json:"age"`
}

// SimulateAll ages every container by Hours of game time.
type SimulateAll struct {
	Hours float64 `json:"hours"`
}

// SimulateContainer ages one container.
type SimulateContainer struct {
	ContainerID string  `json:"container_id"`
	Hours       float64 `json:"hours"`
}

// ForceExpire expires one batch regardless of age.
type ForceExpire struct {
	ContainerID string `json:"container_id"`
	BatchIndex  int    `json:"batch_index"`
}

// ForceExpireAll expires everything held by one entity type, or by all
// containers when EntityType is zero.
type ForceExpireAll struct {
	EntityType registry.EntityType `json:"entity_type"`
}

// ClearLossLog empties the loss log.
type ClearLossLog struct{}

// Reconcile aligns ledger totals with reported fill levels.
type Reconcile struct {
	DryRun bool `json:"dry_run"`
}

// SettingsOp tags a settings change.
type SettingsOp uint8

const (
	SettingsSetExpiration SettingsOp = iota + 1
	SettingsSetPerishable
	SettingsClearCommodity
	SettingsSetGlobal
	SettingsResetAll
)

// ChangeSettings is an admin change to the user override layer.
type ChangeSettings struct {
	Op         SettingsOp     `json:"op"`
	Commodity  string         `json:"commodity,omitempty"`
	Period     float64        `json:"period,omitempty"`
	Perishable bool           `json:"perishable,omitempty"`
	Key        string         `json:"key,omitempty"`
	Value      settings.Value `json:"value,omitempty"`
}

func (AddBatch) Kind() Kind          { return KindAddBatch }
func (RemoveBatch) Kind() Kind       { return KindRemoveBatch }
func (SetBatchAge) Kind() Kind       { return KindSetBatchAge }
func (SetAllBatchAges) Kind() Kind   { return KindSetAllBatchAges }
func (SimulateAll) Kind() Kind       { return KindSimulateAll }
func (SimulateContainer) Kind() Kind { return KindSimulateContainer }
func (ForceExpire) Kind() Kind       { return KindForceExpire }
func (ForceExpireAll) Kind() Kind    { return KindForceExpireAll }
func (ClearLossLog) Kind() Kind      { return KindClearLossLog }
func (Reconcile) Kind() Kind         { return KindReconcile }
func (ChangeSettings) Kind() Kind    { return KindChangeSettings }

func (AddBatch) sealed()          {}
func (RemoveBatch) sealed()       {}
func (SetBatchAge) sealed()       {}
func (SetAllBatchAges) sealed()   {}
func (SimulateAll) sealed()       {}
func (SimulateContainer) sealed() {}
func (ForceExpire) sealed()       {}
func (ForceExpireAll) sealed()    {}
func (ClearLossLog) sealed()      {}
func (Reconcile) sealed()         {}
func (ChangeSettings) sealed()    {}

// Result is the acknowledgment returned to the requester. State changes
// reach every replica through registry deltas, not through Result.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Kind    Kind   `json:"action"`
	Data    any    `json:"data,omitempty"`
}

// Status renders the result the way the command surface prints it.
func (r Result) Status() string {
	if r.Success {
		return r.Message
	}
	return "Error: " + r.Message
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
