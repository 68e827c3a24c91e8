// Package storage is the object storage layer behind ledger snapshots.
//
// Client is the subset of the MinIO client the snapshot store needs. It works
// against AWS S3 and self-hosted MinIO alike, and core/storage/mocks provides
// a testify mock of it.
//
// Storage is optional: with an empty endpoint the server runs without
// snapshots and relies on the database alone.
package storage
