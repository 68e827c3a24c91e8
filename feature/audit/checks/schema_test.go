package checks

import (
	"context"
	"regexp"
	"sort"
	"testing"

	"perishable-ledger/core/database"
	"perishable-ledger/core/persistence"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func TestCheckSchema_SQLite(t *testing.T) {
	db, err := database.Connect(database.Config{Driver: "sqlite", Name: ":memory:"})
	require.NoError(t, err)

	report, err := CheckSchema(db)
	require.NoError(t, err)
	assert.False(t, report.Matched, "tables do not exist before migration")

	require.NoError(t, persistence.NewRepository(db, zap.NewNop()).Migrate(context.Background()))
	report, err = CheckSchema(db)
	require.NoError(t, err)
	assert.True(t, report.Matched, report)
	assert.Equal(t, "sqlite", report.Driver)
	for table, tr := range report.Tables {
		assert.Equal(t, "ok", tr.Status, table)
	}
}

func TestCheckSchema_MissingColumn(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{})
	require.NoError(t, err)

	expected, err := persistence.ExpectedColumns()
	require.NoError(t, err)
	tables := make([]string, 0, len(expected))
	for table := range expected {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	for _, table := range tables {
		q := mock.ExpectQuery(regexp.QuoteMeta("SHOW COLUMNS FROM `" + table + "`"))
		if table == "ledger_meta" {
			q.WillReturnError(assert.AnError)
			continue
		}
		rows := sqlmock.NewRows([]string{"Field", "Type", "Null", "Key", "Default", "Extra"})
		for i, col := range expected[table] {
			if table == "ledger_losses" && i == len(expected[table])-1 {
				continue
			}
			rows.AddRow(col, "varchar(64)", "YES", "", nil, "")
		}
		q.WillReturnRows(rows)
	}

	report, err := CheckSchema(db)
	require.NoError(t, err)
	assert.False(t, report.Matched)
	assert.Len(t, report.Errors, 1)
	assert.Equal(t, "error", report.Tables["ledger_meta"].Status)

	losses := expected["ledger_losses"]
	assert.Equal(t, []string{losses[len(losses)-1]}, report.Tables["ledger_losses"].MissingColumns)
	assert.Equal(t, "ok", report.Tables["ledger_containers"].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckSchema_NilDB(t *testing.T) {
	_, err := CheckSchema(nil)
	assert.Error(t, err)
}
