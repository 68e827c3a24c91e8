// Package config provides configuration management for the ledger service.
//
// It utilizes Viper for loading configuration from environment variables and
// an optional .env file. Defaults come from the `default` struct tags of each
// section and are registered by reflection, so every key can be overridden by
// an environment variable (ledger.drift_policy -> LEDGER_DRIFT_POLICY).
//
// # Configuration Structure
//
// The Config struct is the central repository for all application settings, divided into subsections:
//   - Server: HTTP and replication ports, API key, admin token, CLI base URL
//   - Database: persistence driver (mysql, sqlite) and connection details
//   - Storage: S3/MinIO credentials and bucket for snapshots
//   - Log: Logging level and format
//   - Ledger: period length, tick and snapshot schedules, drift policy
//
// # Usage
//
//	cfg, err := config.LoadConfig(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Ledger.DaysPerPeriod)
package config
