package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTableColumns(t *testing.T) {
	db, err := Connect(Config{Driver: "sqlite", Name: ":memory:"})
	require.NoError(t, err)

	err = db.Exec("CREATE TABLE batches (id INTEGER PRIMARY KEY, container_id TEXT NOT NULL, amount REAL)").Error
	require.NoError(t, err)

	columns, err := GetTableColumns(db, "batches")
	require.NoError(t, err)
	assert.Len(t, columns, 3)

	colMap := make(map[string]ColumnInfo)
	for _, col := range columns {
		colMap[col.Field] = col
	}

	assert.Equal(t, "integer", colMap["id"].Type)
	assert.Equal(t, "PRI", colMap["id"].Key)
	assert.Equal(t, "text", colMap["container_id"].Type)
	assert.Equal(t, "NO", colMap["container_id"].Null)
	assert.Equal(t, "real", colMap["amount"].Type)

	// PRAGMA table_info returns an empty result for a missing table
	cols, err := GetTableColumns(db, "non_existent")
	assert.NoError(t, err)
	assert.Empty(t, cols)
}

func TestMissingColumns(t *testing.T) {
	db, err := Connect(Config{Driver: "sqlite", Name: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, db.Exec("CREATE TABLE losses (id INTEGER PRIMARY KEY, amount REAL)").Error)

	missing, err := MissingColumns(db, "losses", []string{"id", "Amount", "commodity"})
	require.NoError(t, err)
	assert.Equal(t, []string{"commodity"}, missing)
}
