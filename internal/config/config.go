// Package config loads the daemon's environment configuration.
//
// DOCKER_HOST and DOCKER_CERT_PATH follow the Docker CLI conventions and are
// both required. Tuning knobs use the DOCKERFWD_ prefix.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/shinji-kodama/docker-port-forward/internal/model"
)

// envPrefix namespaces the optional settings (DOCKERFWD_BIND_ADDRESS, ...).
// Fields tagged with an explicit envconfig name fall back to the unprefixed
// name, which is how DOCKER_HOST and DOCKER_CERT_PATH are found.
const envPrefix = "DOCKERFWD"

// TLS material file names inside DOCKER_CERT_PATH, as written by docker-machine.
const (
	caFile   = "ca.pem"
	certFile = "cert.pem"
	keyFile  = "key.pem"
)

// Settings is the complete runtime configuration.
type Settings struct {
	// DockerHost is the Docker Engine API URL, e.g. tcp://192.168.99.100:2376.
	DockerHost string `envconfig:"DOCKER_HOST"`

	// CertPath is the directory holding ca.pem, cert.pem and key.pem for
	// mutual TLS with the daemon.
	CertPath string `envconfig:"DOCKER_CERT_PATH"`

	// BindAddress is the local interface the port listeners bind to.
	// Empty binds all interfaces.
	BindAddress string `split_words:"true" default:""`

	// ShutdownGrace bounds how long in-flight tunnels may keep running after
	// a shutdown signal before they are force-closed.
	ShutdownGrace time.Duration `split_words:"true" default:"10s"`

	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `split_words:"true" default:"info"`

	// LogFormat selects the logrus formatter: "text" or "json".
	LogFormat string `split_words:"true" default:"text"`
}

// Load reads Settings from the process environment and validates them.
// Any problem is returned as a CLIError with ExitConfigError.
func Load() (*Settings, error) {
	var s Settings
	if err := envconfig.Process(envPrefix, &s); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError, "failed to load configuration", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks required values and that the TLS material is readable.
func (s *Settings) Validate() error {
	if s.DockerHost == "" || s.CertPath == "" {
		return model.NewCLIError(model.ExitConfigError,
			"Docker environment not ready. You must set DOCKER_HOST and DOCKER_CERT_PATH")
	}

	u, err := url.Parse(s.DockerHost)
	if err != nil {
		return model.WrapCLIError(model.ExitConfigError,
			fmt.Sprintf("invalid DOCKER_HOST %q", s.DockerHost), err)
	}
	if u.Hostname() == "" {
		return model.NewCLIError(model.ExitConfigError,
			fmt.Sprintf("DOCKER_HOST %q has no hostname", s.DockerHost))
	}

	if s.ShutdownGrace < 0 {
		return model.NewCLIError(model.ExitConfigError,
			fmt.Sprintf("DOCKERFWD_SHUTDOWN_GRACE must not be negative, got %s", s.ShutdownGrace))
	}

	switch s.LogFormat {
	case "text", "json":
	default:
		return model.NewCLIError(model.ExitConfigError,
			fmt.Sprintf("invalid DOCKERFWD_LOG_FORMAT %q (valid: text, json)", s.LogFormat))
	}

	ca, cert, key := s.CertFiles()
	for _, path := range []string{ca, cert, key} {
		f, err := os.Open(path)
		if err != nil {
			return model.WrapCLIError(model.ExitConfigError,
				fmt.Sprintf("cannot read TLS material %s", path), err)
		}
		_ = f.Close()
	}
	return nil
}

// RemoteHost returns the hostname part of DOCKER_HOST. Docker publishes
// container ports on the daemon host, so this is the relay target host.
func (s *Settings) RemoteHost() string {
	u, err := url.Parse(s.DockerHost)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// CertFiles returns the CA, client certificate and client key paths.
func (s *Settings) CertFiles() (ca, cert, key string) {
	return filepath.Join(s.CertPath, caFile),
		filepath.Join(s.CertPath, certFile),
		filepath.Join(s.CertPath, keyFile)
}
