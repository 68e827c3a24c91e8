// Package checks holds the individual audit checks.
package checks

import (
	"fmt"
	"math"
	"sort"

	"perishable-ledger/core/catalog"
	"perishable-ledger/core/ledger"
	"perishable-ledger/core/registry"
	"perishable-ledger/core/settings"
)

// Issue names of the ledger check.
const (
	IssueDuplicateID  = "duplicate_id"
	IssueReverseIndex = "reverse_index"
	IssueBatchAmount  = "batch_amount"
	IssueBatchAge     = "batch_age"
	IssueCommodity    = "unknown_commodity"
	IssueStaleCache   = "stale_threshold_cache"
)

const (
	statusOK = "ok"
	statusKO = "error"

	cacheTolerance = 1e-9
)

// Issue is one broken invariant.
type Issue struct {
	Check       string `json:"check"`
	ContainerID string `json:"container_id,omitempty"`
	Detail      string `json:"detail"`
}

// LedgerReport is the result of CheckLedger.
type LedgerReport struct {
	Matched    bool    `json:"matched"`
	Containers int     `json:"containers"`
	Batches    int     `json:"batches"`
	Issues     []Issue `json:"issues"`
}

// EntityIndex resolves an entity to its container.
type EntityIndex interface {
	FindByEntity(h registry.EntityHandle) (string, bool)
}

// CheckLedger verifies the structural invariants of st. index is the live
// reverse index; cat and resolver may be nil to skip the checks that need them.
func CheckLedger(st registry.State, index EntityIndex, cat *catalog.Catalog, resolver *settings.Resolver) *LedgerReport {
	report := &LedgerReport{Matched: true, Containers: len(st.Containers), Issues: []Issue{}}
	add := func(check, id, format string, args ...any) {
		report.Matched = false
		report.Issues = append(report.Issues, Issue{Check: check, ContainerID: id, Detail: fmt.Sprintf(format, args...)})
	}

	seen := make(map[string]bool, len(st.Containers))
	owners := make(map[registry.EntityHandle]string)
	for _, c := range st.Containers {
		if c.ID == "" || seen[c.ID] {
			add(IssueDuplicateID, c.ID, "container id %q is empty or repeated", c.ID)
		}
		seen[c.ID] = true

		if c.Bound() {
			if other, dup := owners[c.Entity]; dup {
				add(IssueReverseIndex, c.ID, "entity %d is also bound to %s", c.Entity, other)
			}
			owners[c.Entity] = c.ID
			if index != nil {
				if got, ok := index.FindByEntity(c.Entity); !ok || got != c.ID {
					add(IssueReverseIndex, c.ID, "entity %d resolves to %q", c.Entity, got)
				}
			}
		}

		if cat != nil {
			if _, ok := cat.ByIndex(c.CommodityIndex); !ok {
				add(IssueCommodity, c.ID, "commodity index %d is not in the catalog", c.CommodityIndex)
			}
		}

		for i, b := range c.Batches {
			report.Batches++
			if b.Amount < ledger.Epsilon {
				add(IssueBatchAmount, c.ID, "batch %d holds %g", i, b.Amount)
			}
			if b.AgeInPeriods < 0 {
				add(IssueBatchAge, c.ID, "batch %d has age %g", i, b.AgeInPeriods)
			}
		}
	}

	if cat != nil && resolver != nil {
		for _, com := range cat.All() {
			want := resolver.Explain(com.Name)
			got, cached := resolver.Threshold(com.Index)
			switch {
			case want.Expires != cached:
				add(IssueStaleCache, "", "%s: cached perishable=%t, resolved %t", com.Name, cached, want.Expires)
			case cached && math.Abs(got.Expiration-want.Expiration) > cacheTolerance:
				add(IssueStaleCache, "", "%s: cached %.3f, resolved %.3f", com.Name, got.Expiration, want.Expiration)
			}
		}
	}

	sort.SliceStable(report.Issues, func(i, j int) bool {
		return report.Issues[i].Check < report.Issues[j].Check
	})
	return report
}
