// Package registry is the authoritative container registry.
//
// It maps container ids to their entity binding, commodity identity and FIFO
// batch list, keeps the entity reverse index consistent with the forward map,
// counts statistics and owns the bounded loss log.
//
// # Lifecycle
//
// A container moves Unregistered → Registered → (Updated)* → Unregistered.
// Every transition emits exactly one Delta to the configured Sink, in
// mutation order, while the registry lock is held. Sinks must therefore be
// non-blocking and must not call back into the registry.
//
// # Entity binding
//
// The entity handle is a weak, non-owning reference. When an entity
// disappears the binding is invalidated (handle zeroed, reverse entry
// removed) but the container itself survives until it is unregistered.
//
// # Failure semantics
//
// Lookups return ErrContainerNotFound / ErrBatchNotFound. Mutations run on a
// copy of the batch list and only commit on success, so a rejected request
// never leaves partial state behind.
package registry
