// Package protocol is the replication wire format between the authoritative
// ledger and its replicas.
//
// Every frame is one message: a single type byte followed by a fixed-width
// little-endian payload written with Writer and read back with Reader.
// Strings carry a uint16 length prefix, floats are IEEE-754 binary32 and
// entity references are uint32 handles that the receiver resolves locally
// (possibly to unresolved).
//
// Messages are plain data. Applying them is done by the functions in
// apply.go against a Replica, and Table maps message types to those
// functions so that decoding, business logic and routing stay separate.
//
// Receivers never panic on bad input. Unknown message types, unknown delta
// operations and deltas for unknown containers come back as errors
// (ErrUnknownMessage, ErrUnknownOp, ErrSyncGap) that callers log and skip.
package protocol
