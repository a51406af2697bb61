// Package registry maintains the mapping from running containers to the
// port listeners opened for them.
//
// The Registry is the only process-wide mutable state of the forwarder.
// Its map is never touched from outside; callers go through Activate and
// Deactivate, which are serialized per container ID:
//
//	Activate(C)    inspect C ──▶ open one listener per host port not yet open
//	Deactivate(C)  close every listener of C ──▶ drop the entry
//
// Operations on different containers run concurrently. Both operations are
// idempotent: activating an active container opens nothing new, and
// deactivating an unknown container does nothing.
//
// Design decisions:
//   - Closing a listener only stops accepting. Tunnels accepted earlier are
//     owned by the relay and finish on their own, so Deactivate never severs
//     live connections. Shutdown is the one place that force-closes them,
//     after a grace period.
//   - A container whose bindings all fail to bind gets no entry, which is
//     equivalent to an entry with no listeners.
package registry
