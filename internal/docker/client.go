// client.go wraps the Docker Engine SDK client. The registry and dispatcher
// depend only on domain types from internal/model, never on SDK types.
package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"

	"github.com/shinji-kodama/docker-port-forward/internal/model"
)

// defaultPingTimeout is the maximum duration to wait for a Docker daemon
// response during a Ping operation.
const defaultPingTimeout = 5 * time.Second

// TLSFiles names the PEM files used for mutual TLS with the daemon.
type TLSFiles struct {
	CA   string
	Cert string
	Key  string
}

// Client wraps the Docker Engine SDK client and implements the gateway
// operations the forwarder needs: listing running containers, inspecting
// one, and subscribing to lifecycle events.
//
// Usage:
//
//	c, err := docker.NewClient(host, tlsFiles, log)
//	if err != nil { /* handle */ }
//	defer c.Close()  // Always close to release resources
//	if err := c.Ping(ctx); err != nil { /* daemon unreachable */ }
type Client struct {
	// inner is the underlying Docker SDK client. It is wrapped rather than
	// embedded to keep the exposed API surface small.
	inner *client.Client

	log logrus.FieldLogger
}

// NewClient creates a Docker client for host (e.g. tcp://192.168.99.100:2376)
// authenticating with the given TLS files. log receives debug output about
// bindings that are not forwarded.
//
// client.WithTLSClientConfig loads and parses the PEM files, so unreadable
// or invalid TLS material is reported here. Returns a model.CLIError with
// ExitConfigError in that case.
func NewClient(host string, tls TLSFiles, log logrus.FieldLogger) (*Client, error) {
	c, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithTLSClientConfig(tls.CA, tls.Cert, tls.Key),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitConfigError,
			fmt.Sprintf("failed to create Docker client for host %q", host),
			err,
		)
	}

	return &Client{inner: c, log: log}, nil
}

// Ping verifies that the Docker daemon is reachable and responsive.
// It sends a lightweight ping request to the Docker API and waits
// up to defaultPingTimeout for a response.
//
// Returns a model.CLIError with ExitDockerNotRunning if the daemon
// does not respond or returns an error.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	_, err := c.inner.Ping(pingCtx)
	if err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			"Docker daemon is not responding",
			err,
		)
	}
	return nil
}

// Close releases all resources held by the Docker client.
//
// Close is safe to call multiple times.
func (c *Client) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}
