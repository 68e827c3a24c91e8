// Package audit verifies the ledger and the infrastructure behind it.
//
// # Checks Provided
//
//   - Ledger: Every container id is unique, every bound entity maps back to
//     its container through the reverse index, every batch holds at least
//     ledger.Epsilon with a non-negative age, commodity indices exist in the
//     catalog, and the resolver's threshold cache agrees with a fresh
//     resolution of every commodity.
//   - Schema: The connected database carries every column of the persistence models.
//   - Snapshots: The newest snapshot in object storage downloads and decodes.
//   - Drift: Dry-run reconciliation of ledger totals against reported fill levels.
//
// # HTTP Endpoints
//
//   - GET /audit : Runs all checks.
//   - GET /audit/ledger : Runs the ledger invariant check.
//   - GET /audit/schema : Runs the database schema check.
//   - GET /audit/snapshots : Checks the newest snapshot.
//   - GET /audit/drift : Reports drift without correcting it.
package audit
