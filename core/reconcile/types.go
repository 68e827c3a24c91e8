package reconcile

import (
	"fmt"
	"strings"
)

// DriftPolicy decides what happens when ledger and reported fill disagree.
type DriftPolicy string

const (
	// TrustExternal moves the ledger to the reported fill level.
	TrustExternal DriftPolicy = "trust_external"
	// ReportOnly plans corrections but never applies them.
	ReportOnly DriftPolicy = "report_only"
)

// ParseDriftPolicy parses a configured policy. Empty means TrustExternal.
func ParseDriftPolicy(s string) (DriftPolicy, error) {
	switch DriftPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", TrustExternal:
		return TrustExternal, nil
	case ReportOnly:
		return ReportOnly, nil
	default:
		return "", fmt.Errorf("unknown drift policy %q", s)
	}
}

// Result is the reconciliation outcome for one container.
type Result struct {
	// ContainerID is the ledger container.
	ContainerID string `json:"container_id"`

	// EntityType is the entity type name.
	EntityType string `json:"entity_type"`

	// Commodity is the tracked commodity name.
	Commodity string `json:"commodity"`

	// LedgerTotal is the sum of all batches.
	LedgerTotal float64 `json:"ledger_total"`

	// ReportedFill is the level read from the adapter.
	ReportedFill float64 `json:"reported_fill"`

	// Drift is ReportedFill - LedgerTotal.
	Drift float64 `json:"drift"`

	// Skipped is set when the container could not be compared.
	Skipped bool `json:"skipped"`

	// Reason explains a skip.
	Reason string `json:"reason,omitempty"`
}

// ActionType is the kind of ledger correction.
type ActionType string

const (
	// ActionAddBatch adds a zero-age batch for goods the ledger never saw.
	ActionAddBatch ActionType = "add_batch"
	// ActionConsume consumes FIFO what the ledger holds beyond reality.
	ActionConsume ActionType = "consume_fifo"
)

// Action is a planned correction.
type Action struct {
	Type        ActionType `json:"type"`
	ContainerID string     `json:"container_id"`
	Amount      float64    `json:"amount"`
	Reason      string     `json:"reason"`
}

// Summary aggregates a plan.
type Summary struct {
	ContainersProcessed int     `json:"containers_processed"`
	ContainersSkipped   int     `json:"containers_skipped"`
	InSync              int     `json:"in_sync"`
	TotalAdded          float64 `json:"total_added"`
	TotalRemoved        float64 `json:"total_removed"`
	// Unregistered counts containers emptied by a correction.
	Unregistered int `json:"unregistered"`
}

// Plan holds per-container results and the corrections they imply.
type Plan struct {
	Results []Result    `json:"results"`
	Actions []Action    `json:"actions"`
	Summary Summary     `json:"summary"`
	Policy  DriftPolicy `json:"policy"`
	Applied bool        `json:"applied"`
}

// Options controls a reconciliation run.
type Options struct {
	// DryRun plans without applying.
	DryRun bool

	// Policy selects the drift policy. Empty means TrustExternal.
	Policy DriftPolicy

	// Tolerance is the drift below which a container counts as in sync.
	// Zero means ledger.Epsilon.
	Tolerance float64
}

func (o Options) mutates() bool {
	return !o.DryRun && o.Policy != ReportOnly
}
