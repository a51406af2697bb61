// Package port implements the port listener of the docker-port-forward
// daemon: one bound TCP socket for one (container, host port) pair.
//
// A Listener binds config.LocalPort on the forwarding host, accepts
// connections in its own goroutine, and hands every accepted connection to
// a Handler (the tunnel relay) without blocking the accept loop:
//
//	Open ──bind──▶ accept loop ──go──▶ Handler.Serve(conn, config)
//	                   │
//	Close ─────────────┘ stops accepting; running tunnels are untouched
//
// Bind failures are classified into permission denied, address in use and
// other errors (model.BindError) so callers can report the offending port
// and skip it.
package port
