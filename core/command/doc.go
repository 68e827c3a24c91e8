// Package command executes privileged ledger mutations and ingests fill
// level hooks from the game side.
//
// Every mutating operation is one variant of the closed Command set and is
// run by Engine.Execute, which checks the actor's privilege, serializes
// against periodic ticks and returns a Result acknowledgment.
//
// Operations that touch a live entity change the external fill level first,
// read it back, and book only the observed difference in the ledger. While
// they run, the entity's automatic fill hooks are suppressed so the same
// goods are never booked twice.
package command
