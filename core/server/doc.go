// Package server holds the HTTP and replication server configuration.
//
// While the main application entry point handles the server startup, this package
// defines the configuration structures and the checks applied to them.
//
// # Configuration
//
// The Config struct defines the admin API port and key, the websocket
// replication port, the admin token replication clients present in their
// Hello message, and the base URL used by CLI subcommands.
//
// # Usage
//
// This package is primarily used by the core/config package to embed server settings
// and by the replication hub to decide whether a session is privileged.
package server
