// Package omapi owns the object runtime shared by every OMAPI object kind.
//
// Ownership boundary:
// - object header, reference counting and the inner/outer chain
//
// - type registry and chain dispatch (values, signals, stuffing)
//
// - handle table and the I/O registration contract
//
// Object kinds (connections, listeners, interfaces, peers) live in their own
// packages and plug in through Registry.Register. Nothing in this package
// performs I/O or touches process-wide state; callers serialise access
// through the dispatcher loop.
package omapi
