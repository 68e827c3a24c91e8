// Package settings resolves per-commodity expiration thresholds.
//
// Three layers are consulted, highest precedence first:
//
//  1. User/admin overrides (persisted, replicated to clients).
//  2. Mod-author defaults shipped with the commodity catalog.
//  3. "Does not expire", the fallback for anything unconfigured.
//
// The Resolver keeps an index-keyed cache (commodity index → expiration and
// warning threshold) that is rebuilt synchronously, under the write lock,
// every time an override changes. Readers therefore never observe a stale
// threshold.
//
// Change listeners registered with OnChange run after the cache rebuild and
// receive a copy of the new overrides. The server uses them to broadcast the
// settings to replicas and to rescan for newly perishable containers.
//
// # Overrides document
//
// Overrides serialize as a global key/value set plus a per-commodity map:
//
//	{
//	  "global": {"enabled": true, "warning_hours": 24},
//	  "per_commodity": {"MILK": {"period": 2}, "EGG": {"expires": false}}
//	}
//
// ParseDocument validates this shape against an embedded JSON schema.
package settings
