package model

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ContainerID is the opaque Docker container identifier. It is unique per
// container and stable for the container's whole lifetime, which makes it
// the key of the listener registry.
type ContainerID string

// String returns the identifier as a plain string.
func (id ContainerID) String() string {
	return string(id)
}

// Short returns the 12-character prefix Docker uses in its own CLI output.
// Identifiers shorter than that are returned unchanged.
func (id ContainerID) Short() string {
	if len(id) > 12 {
		return string(id[:12])
	}
	return string(id)
}

// UnknownContainerName is reported in place of a container name when the
// container vanished before its name could be looked up.
const UnknownContainerName = "<unknown>"

// PortBinding is one published host port of a container.
// It is derived once per activation and never changes afterwards.
type PortBinding struct {
	// HostPort is the port Docker published on the daemon host (1-65535).
	HostPort int

	// ContainerName is the human-readable container name without the
	// leading "/" the Docker API adds.
	ContainerName string
}

// Validate checks that the binding carries a usable host port.
func (b PortBinding) Validate() error {
	if b.HostPort < 1 || b.HostPort > 65535 {
		return fmt.Errorf("port binding: host port %d out of range (1-65535)", b.HostPort)
	}
	return nil
}

// ContainerDetails is the subset of a container inspection result that the
// forwarder needs: its display name and the TCP host ports it publishes.
type ContainerDetails struct {
	ID       ContainerID
	Name     string
	Bindings []PortBinding
}

// TunnelConfig fully determines the behavior of one port listener.
// It is a value type: constructed once per listener and never mutated.
type TunnelConfig struct {
	// RemoteHost is the Docker daemon host the container ports are published on.
	RemoteHost string

	// RemotePort is the published port on RemoteHost that connections are relayed to.
	RemotePort int

	// BindHost is the local interface address. Empty means all interfaces.
	BindHost string

	// LocalPort is the local port the listener accepts connections on.
	LocalPort int

	// ContainerName is carried for log output only.
	ContainerName string
}

// RemoteAddr returns the dial target in host:port form.
func (c TunnelConfig) RemoteAddr() string {
	return net.JoinHostPort(c.RemoteHost, strconv.Itoa(c.RemotePort))
}

// LocalAddr returns the listen address in host:port form.
// An empty BindHost yields ":port", which binds all interfaces.
func (c TunnelConfig) LocalAddr() string {
	return net.JoinHostPort(c.BindHost, strconv.Itoa(c.LocalPort))
}

// EventKind is the closed set of container lifecycle transitions the
// dispatcher distinguishes.
type EventKind int

const (
	// EventUnknown is any status other than start or die. It is ignored.
	EventUnknown EventKind = iota

	// EventStarted is emitted by Docker when a container starts.
	EventStarted

	// EventDied is emitted by Docker when a container's main process exits.
	EventDied
)

// String returns a lowercase name for log output.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventDied:
		return "died"
	default:
		return "unknown"
	}
}

// LifecycleEvent is one container state transition reported by Docker.
type LifecycleEvent struct {
	Kind        EventKind
	ContainerID ContainerID

	// RawStatus is the action string Docker sent (e.g. "start", "die",
	// "health_status: healthy"). It is kept for logging Unknown events.
	RawStatus string
}

// ParseEventKind maps a Docker event action to an EventKind.
// Docker appends details to some actions ("exec_start: sh"), so only the
// part before the first colon is compared.
func ParseEventKind(status string) EventKind {
	action := status
	if i := strings.IndexByte(action, ':'); i >= 0 {
		action = action[:i]
	}
	switch strings.TrimSpace(action) {
	case "start":
		return EventStarted
	case "die":
		return EventDied
	default:
		return EventUnknown
	}
}

// ErrMalformedEvent is returned when an event payload lacks the fields
// needed to act on it.
var ErrMalformedEvent = errors.New("malformed lifecycle event")

// RawEvent is an event as delivered by the Docker event stream, before it
// is interpreted.
type RawEvent struct {
	// Type is the Docker object type ("container", "network", ...).
	Type string

	// Action is the event status ("start", "die", "exec_start: sh", ...).
	Action string

	// ActorID is the identifier of the object the event is about.
	ActorID string
}

// ParseLifecycleEvent interprets a raw Docker event. Events for other
// object types are returned as EventUnknown. An event without an actor or an
// action is malformed.
func ParseLifecycleEvent(raw RawEvent) (LifecycleEvent, error) {
	if raw.ActorID == "" || raw.Action == "" {
		return LifecycleEvent{}, fmt.Errorf("%w: type=%q action=%q id=%q",
			ErrMalformedEvent, raw.Type, raw.Action, raw.ActorID)
	}

	ev := LifecycleEvent{
		Kind:        ParseEventKind(raw.Action),
		ContainerID: ContainerID(raw.ActorID),
		RawStatus:   raw.Action,
	}
	if raw.Type != "" && raw.Type != "container" {
		ev.Kind = EventUnknown
	}
	return ev, nil
}

// ErrEventStreamClosed is returned when the Docker event subscription ends.
// Without events the registry silently drifts from reality, so callers
// must treat it as fatal.
var ErrEventStreamClosed = errors.New("docker event stream closed")

// BindErrorKind classifies why a port listener could not be opened.
type BindErrorKind int

const (
	// BindOther covers every bind failure not listed below.
	BindOther BindErrorKind = iota

	// BindPermissionDenied means the process may not bind the port
	// (typically a privileged port below 1024).
	BindPermissionDenied

	// BindAddressInUse means another socket already owns the port.
	BindAddressInUse
)

// String returns a short label for log output.
func (k BindErrorKind) String() string {
	switch k {
	case BindPermissionDenied:
		return "permission denied"
	case BindAddressInUse:
		return "address in use"
	default:
		return "bind failed"
	}
}

// BindError reports a failed bind for one (container, port) pair.
// Only that port is skipped; the container's other ports still activate.
type BindError struct {
	Container string
	Port      int
	Kind      BindErrorKind
	Err       error
}

// Error satisfies the error interface.
func (e *BindError) Error() string {
	switch e.Kind {
	case BindPermissionDenied:
		return fmt.Sprintf("no privilege to bind %d, will not forward ports for %s", e.Port, e.Container)
	case BindAddressInUse:
		return fmt.Sprintf("address is already in use: localhost:%d, will not forward ports for %s", e.Port, e.Container)
	default:
		return fmt.Sprintf("cannot bind %d for %s: %v", e.Port, e.Container, e.Err)
	}
}

// Unwrap returns the underlying OS error for use with errors.Is/errors.As.
func (e *BindError) Unwrap() error {
	return e.Err
}

// ExitCode defines the process exit codes of the daemon.
// Scripts and supervisors use them to tell configuration mistakes apart
// from Docker outages.
type ExitCode int

const (
	// ExitSuccess indicates a clean shutdown after a signal.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitConfigError indicates missing or invalid environment
	// configuration, including unreadable TLS material.
	ExitConfigError ExitCode = 2

	// ExitDockerNotRunning indicates the Docker daemon is not accessible
	// or the initial container enumeration failed.
	ExitDockerNotRunning ExitCode = 3

	// ExitEventStreamLost indicates the Docker event subscription ended
	// or errored while the daemon was running.
	ExitEventStreamLost ExitCode = 4
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
