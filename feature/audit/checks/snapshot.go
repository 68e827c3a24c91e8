package checks

import (
	"context"
	"errors"

	"perishable-ledger/core/snapshot"
)

// SnapshotReport is the result of CheckSnapshot.
type SnapshotReport struct {
	Stored     int     `json:"stored"`
	Latest     string  `json:"latest,omitempty"`
	Readable   bool    `json:"readable"`
	Containers int     `json:"containers"`
	ClockHours float64 `json:"clock_hours"`
	Error      string  `json:"error,omitempty"`
}

// CheckSnapshot lists the archive and decodes the newest snapshot. An empty
// archive is not an error.
func CheckSnapshot(ctx context.Context, store *snapshot.Store) (*SnapshotReport, error) {
	if store == nil {
		return nil, errors.New("snapshot store is not configured")
	}
	list, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	report := &SnapshotReport{Stored: len(list)}
	if len(list) == 0 {
		return report, nil
	}
	report.Latest = list[0].Key
	st, err := store.Load(ctx, report.Latest)
	if err != nil {
		report.Error = err.Error()
		return report, nil
	}
	report.Readable = true
	report.Containers = len(st.Containers)
	report.ClockHours = st.ClockHours
	return report, nil
}
