// Package replication serves the ledger to remote replicas over WebSocket.
//
// Every frame is one binary protocol message (see core/protocol). A session
// opens with Hello; the hub answers Welcome, then SettingsSync and FullSync,
// and from then on streams every registry Delta and every settings change in
// the order they happened. Replicas send CommandRequest and
// SettingsChangeRequest; each is executed under the session's privilege and
// answered with a CommandResponse.
//
// # Privilege
//
// A session is admin when its Hello token matches server.admin_token. With no
// admin token configured, a loopback connection is treated as the host of a
// single-player game and is privileged too. The Client refuses privileged
// sends locally when the server did not grant admin, and the server checks
// again on receipt.
//
// # Delivery
//
// Each session has a bounded outbound queue drained by one writer goroutine.
// A session that cannot keep up is disconnected rather than allowed to block
// the registry; it recovers by reconnecting and receiving a fresh FullSync.
//
// # HTTP Endpoints
//
//   - GET /replication/sessions : Lists connected sessions.
//
// The WebSocket endpoint itself is served on server.replication_port at /ws.
package replication
