// Package docker provides the Docker Engine API gateway for the
// docker-port-forward daemon.
//
// This package handles:
//   - Docker client initialization for a TCP daemon with mutual TLS
//     (DOCKER_HOST plus the ca.pem/cert.pem/key.pem in DOCKER_CERT_PATH)
//   - Enumeration of running containers
//   - Container inspection reduced to a name and the published TCP ports
//   - Subscription to the container lifecycle event stream
//
// The package uses github.com/docker/docker/client as the underlying
// Docker SDK, with version negotiation enabled for broad compatibility.
package docker
