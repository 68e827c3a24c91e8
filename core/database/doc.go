// Package database handles database connections and schema inspection.
//
// It provides a wrapper around GORM to configure either a MySQL server or an
// embedded SQLite file based on the application's configuration.
//
// # Connect
//
// Connect picks the dialector from Config.Driver ("mysql" or "sqlite"), applies
// pool settings and pings the database with the configured timeout. The
// connection is optional: without it the ledger runs in memory only.
//
// # Schema Inspection
//
// GetTableColumns and MissingColumns read the live table layout. The audit
// feature uses them to verify that the persistence tables carry the columns
// the repository models expect.
//
// # Usage
//
//	db, err := database.Connect(cfg.Database)
//	if err != nil {
//	    log.Warn("Database connection failed", zap.Error(err))
//	}
//
//	missing, err := database.MissingColumns(db, "ledger_batches", []string{"amount"})
package database
