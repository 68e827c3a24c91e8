// Package ledger exposes the container registry and the command engine over HTTP.
//
// Every route sits behind the API key middleware (core/middleware/auth).
// Mutations run through the command engine as an actor whose privilege comes
// from that middleware, so HTTP, replication and the CLI share one check.
//
// # HTTP Endpoints
//
//   - GET /ledger/containers : Lists containers (?type=, ?farm=, ?commodity=).
//   - GET /ledger/containers/:id : One container with its batches.
//   - POST /ledger/commands/:action : Executes a command; the body carries its arguments.
//   - POST /ledger/fill/:type : Reports an observed fill level from the game side.
//   - DELETE /ledger/entities/:type/:handle : Reports that an entity was destroyed.
//   - GET /ledger/settings : The override layer.
//   - PUT /ledger/settings : Replaces the override layer with a document.
//   - DELETE /ledger/settings : Resets every override.
//   - GET /ledger/settings/commodities : Effective expiration of every commodity.
//   - GET|PUT|DELETE /ledger/settings/commodities/:name : Explains, sets or clears one override.
//   - PUT /ledger/settings/global/:key : Sets a global value.
//   - GET /ledger/losses : Most recent loss log entries (?count=).
//   - GET /ledger/stats : Registry counters and the game clock.
//   - GET|POST /ledger/snapshots, DELETE /ledger/snapshots/* : Snapshot archive.
package ledger
