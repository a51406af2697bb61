package model

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestContainerID_Short verifies the Docker-style 12 character prefix.
func TestContainerID_Short(t *testing.T) {
	id := ContainerID("4f66ad9a0b2e7c1d9e8f00112233445566778899aabbccddeeff001122334455")
	assert.Equal(t, "4f66ad9a0b2e", id.Short())
	assert.Equal(t, "abc", ContainerID("abc").Short(), "short ids are returned unchanged")
}

// TestPortBinding_Validate checks the 1-65535 host port range.
func TestPortBinding_Validate(t *testing.T) {
	tests := []struct {
		name     string
		port     int
		hasError bool
	}{
		{"lowest valid", 1, false},
		{"common", 8080, false},
		{"highest valid", 65535, false},
		{"zero", 0, true},
		{"negative", -1, true},
		{"too high", 65536, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := PortBinding{HostPort: tt.port, ContainerName: "web"}.Validate()
			if tt.hasError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestTunnelConfig_Addrs verifies host:port formatting, including the
// empty bind host used for all interfaces and IPv6 bracket handling.
func TestTunnelConfig_Addrs(t *testing.T) {
	cfg := TunnelConfig{RemoteHost: "192.168.99.100", RemotePort: 8080, LocalPort: 8080}
	assert.Equal(t, "192.168.99.100:8080", cfg.RemoteAddr())
	assert.Equal(t, ":8080", cfg.LocalAddr(), "empty bind host binds all interfaces")

	cfg = TunnelConfig{RemoteHost: "::1", RemotePort: 3000, BindHost: "127.0.0.1", LocalPort: 3000}
	assert.Equal(t, "[::1]:3000", cfg.RemoteAddr())
	assert.Equal(t, "127.0.0.1:3000", cfg.LocalAddr())
}

// TestParseEventKind verifies the mapping of Docker actions onto the
// closed set of lifecycle transitions.
func TestParseEventKind(t *testing.T) {
	tests := []struct {
		status   string
		expected EventKind
	}{
		{"start", EventStarted},
		{"die", EventDied},
		{"stop", EventUnknown},
		{"create", EventUnknown},
		{"exec_start: sh -c true", EventUnknown},
		{"health_status: healthy", EventUnknown},
		{"", EventUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseEventKind(tt.status))
		})
	}
}

// TestParseLifecycleEvent verifies the raw-to-typed event translation,
// including malformed payloads and foreign object types.
func TestParseLifecycleEvent(t *testing.T) {
	ev, err := ParseLifecycleEvent(RawEvent{Type: "container", Action: "start", ActorID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, EventStarted, ev.Kind)
	assert.Equal(t, ContainerID("abc"), ev.ContainerID)
	assert.Equal(t, "start", ev.RawStatus)

	ev, err = ParseLifecycleEvent(RawEvent{Action: "die", ActorID: "abc"})
	require.NoError(t, err, "an empty type is accepted as a container event")
	assert.Equal(t, EventDied, ev.Kind)

	ev, err = ParseLifecycleEvent(RawEvent{Type: "network", Action: "start", ActorID: "net1"})
	require.NoError(t, err)
	assert.Equal(t, EventUnknown, ev.Kind, "non-container events are ignored")

	_, err = ParseLifecycleEvent(RawEvent{Type: "container", Action: "start"})
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = ParseLifecycleEvent(RawEvent{Type: "container", ActorID: "abc"})
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

// TestEventKind_String verifies log labels.
func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "started", EventStarted.String())
	assert.Equal(t, "died", EventDied.String())
	assert.Equal(t, "unknown", EventUnknown.String())
}

// TestBindError verifies the messages and the unwrap chain of BindError.
func TestBindError(t *testing.T) {
	t.Run("permission denied", func(t *testing.T) {
		err := &BindError{Container: "web", Port: 80, Kind: BindPermissionDenied, Err: syscall.EACCES}
		assert.Contains(t, err.Error(), "no privilege to bind 80")
		assert.Contains(t, err.Error(), "web")
		assert.True(t, errors.Is(err, syscall.EACCES))
	})

	t.Run("address in use", func(t *testing.T) {
		err := &BindError{Container: "db", Port: 5432, Kind: BindAddressInUse, Err: syscall.EADDRINUSE}
		assert.Contains(t, err.Error(), "already in use: localhost:5432")
		assert.True(t, errors.Is(err, syscall.EADDRINUSE))
	})

	t.Run("other", func(t *testing.T) {
		inner := errors.New("boom")
		err := &BindError{Container: "cache", Port: 6379, Kind: BindOther, Err: inner}
		assert.Contains(t, err.Error(), "boom")

		var bindErr *BindError
		require.True(t, errors.As(error(err), &bindErr))
		assert.Equal(t, 6379, bindErr.Port)
	})
}

// TestCLIError verifies the custom error type used for exit code mapping.
func TestCLIError(t *testing.T) {
	t.Run("simple error", func(t *testing.T) {
		err := NewCLIError(ExitConfigError, "DOCKER_HOST is not set")
		assert.Equal(t, ExitConfigError, err.Code)
		assert.Equal(t, "DOCKER_HOST is not set", err.Error())
		assert.Nil(t, err.Unwrap())
	})

	t.Run("wrapped error", func(t *testing.T) {
		inner := errors.New("connection refused")
		err := WrapCLIError(ExitDockerNotRunning, "Docker daemon is not running", inner)
		assert.Equal(t, ExitDockerNotRunning, err.Code)
		assert.Contains(t, err.Error(), "connection refused")
		assert.Equal(t, inner, err.Unwrap())
	})

	t.Run("errors.Is chain", func(t *testing.T) {
		err := WrapCLIError(ExitEventStreamLost, "lost Docker events", ErrEventStreamClosed)
		assert.True(t, errors.Is(err, ErrEventStreamClosed))
	})
}
