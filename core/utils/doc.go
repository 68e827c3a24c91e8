// Package utils provides common utility functions for the ledger service.
// It holds the loose type conversions used when decoding JSON request bodies
// and query parameters into typed setting values and command arguments.
package utils
