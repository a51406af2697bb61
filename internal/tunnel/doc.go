// Package tunnel implements the byte-transparent TCP relay between an
// accepted client connection and the Docker-published remote endpoint.
//
// Each Tunnel is one client session. The Relay dials the remote target,
// then splices both directions concurrently until each source half-closes:
//
//	client --(copy)--> remote    EOF => half-close remote
//	client <--(copy)-- remote    EOF => half-close client
//
// A failure on the remote side terminates the client connection. A failure
// on the client side ends the remote connection with an orderly FIN.
// Tunnels never retry, and a failing tunnel never affects its listener.
//
// The Tracker records every live tunnel so that process shutdown can wait
// a bounded grace period and then force-close whatever is left.
package tunnel
