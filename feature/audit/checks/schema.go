package checks

import (
	"fmt"
	"sort"

	"perishable-ledger/core/database"
	"perishable-ledger/core/persistence"

	"gorm.io/gorm"
)

// SchemaReport is the result of CheckSchema.
type SchemaReport struct {
	Driver  string                 `json:"driver"`
	Matched bool                   `json:"matched"`
	Tables  map[string]TableReport `json:"tables"`
	Errors  []string               `json:"errors"`
}

// TableReport describes one table.
type TableReport struct {
	MissingColumns []string `json:"missing_columns"`
	Status         string   `json:"status"`
}

// CheckSchema compares the database against the persistence models. A table
// that cannot be inspected is reported and the remaining tables still run.
func CheckSchema(db *gorm.DB) (*SchemaReport, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	expected, err := persistence.ExpectedColumns()
	if err != nil {
		return nil, fmt.Errorf("failed to parse models: %w", err)
	}

	report := &SchemaReport{
		Driver:  db.Dialector.Name(),
		Matched: true,
		Tables:  make(map[string]TableReport, len(expected)),
		Errors:  []string{},
	}

	tables := make([]string, 0, len(expected))
	for t := range expected {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	for _, table := range tables {
		missing, err := database.MissingColumns(db, table, expected[table])
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("Failed to inspect table %s: %v", table, err))
			report.Matched = false
			report.Tables[table] = TableReport{MissingColumns: []string{}, Status: statusKO}
			continue
		}
		tr := TableReport{MissingColumns: missing, Status: statusOK}
		if len(missing) > 0 {
			tr.Status = statusKO
			report.Matched = false
		}
		report.Tables[table] = tr
	}
	return report, nil
}
