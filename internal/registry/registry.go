package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/sirupsen/logrus"

	"github.com/shinji-kodama/docker-port-forward/internal/model"
	"github.com/shinji-kodama/docker-port-forward/internal/port"
	"github.com/shinji-kodama/docker-port-forward/internal/tunnel"
)

// ErrShutdown is returned by Activate once Shutdown has started.
var ErrShutdown = errors.New("registry is shut down")

// Inspector looks up a container's name and published ports.
// The Docker gateway client satisfies it.
type Inspector interface {
	InspectContainer(ctx context.Context, id model.ContainerID) (model.ContainerDetails, error)
}

// Options configures the addresses every listener is built with.
type Options struct {
	// RemoteHost is the Docker daemon host that publishes the ports.
	RemoteHost string

	// BindHost is the local address listeners bind to. Empty binds all
	// interfaces.
	BindHost string
}

// entry is the set of listeners open for one container, in bind order.
type entry struct {
	name      string
	listeners []*port.Listener
}

func (e *entry) has(hostPort int) bool {
	for _, l := range e.listeners {
		if l.Port() == hostPort {
			return true
		}
	}
	return false
}

// Registry is the container → listeners map together with the operations
// that keep it in sync with Docker.
//
// Usage:
//
//	reg := registry.New(dockerClient, relay, tracker, opts, log)
//	_ = reg.Activate(ctx, id)
//	...
//	reg.Shutdown(graceCtx)
type Registry struct {
	inspector Inspector
	handler   port.Handler
	tracker   *tunnel.Tracker
	opts      Options
	log       logrus.FieldLogger

	// keys serializes Activate/Deactivate per container.
	keys *keyLock

	// mu guards the fields below. It is never held across Docker calls or
	// socket operations.
	mu      sync.Mutex
	entries map[model.ContainerID]*entry
	closed  bool
}

// New creates an empty Registry. handler serves every accepted connection;
// tracker is the tunnel tracker Shutdown drains. tracker may be nil when
// handler does not record tunnels.
func New(inspector Inspector, handler port.Handler, tracker *tunnel.Tracker, opts Options, log logrus.FieldLogger) *Registry {
	return &Registry{
		inspector: inspector,
		handler:   handler,
		tracker:   tracker,
		opts:      opts,
		log:       log,
		keys:      newKeyLock(),
		entries:   make(map[model.ContainerID]*entry),
	}
}

// Activate opens a listener for every host port of the container that has
// none yet.
//
// A port that cannot be bound is logged and skipped; the container's other
// ports still activate. The only errors returned are a failed inspection
// (the container gets no entry) and ErrShutdown. Neither is fatal to the
// process.
func (r *Registry) Activate(ctx context.Context, id model.ContainerID) error {
	unlock := r.keys.lock(id)
	defer unlock()

	if r.isClosed() {
		return ErrShutdown
	}

	details, err := r.inspector.InspectContainer(ctx, id)
	if err != nil {
		return fmt.Errorf("inspect container %s: %w", id.Short(), err)
	}
	name := details.Name
	if name == "" {
		name = id.Short()
	}

	r.mu.Lock()
	existing := r.entries[id]
	if existing != nil {
		existing.name = name
	}
	r.mu.Unlock()

	// Tunnels must outlive the call that opened their listener.
	tunnelCtx := context.WithoutCancel(ctx)

	for _, b := range details.Bindings {
		if existing != nil && existing.has(b.HostPort) {
			r.log.WithFields(logrus.Fields{"container": name, "port": b.HostPort}).
				Debug("listener already open")
			continue
		}

		cfg := model.TunnelConfig{
			RemoteHost:    r.opts.RemoteHost,
			RemotePort:    b.HostPort,
			BindHost:      r.opts.BindHost,
			LocalPort:     b.HostPort,
			ContainerName: name,
		}
		l, err := port.Open(tunnelCtx, cfg, r.handler, r.log)
		if err != nil {
			r.log.WithFields(logrus.Fields{"container": name, "port": b.HostPort}).Error(err.Error())
			continue
		}

		existing = r.store(id, name, l)
	}
	return nil
}

// store records l under id and returns the container's entry. If Shutdown
// won the race, l is closed instead and the entry is nil.
func (r *Registry) store(id model.ContainerID, name string, l *port.Listener) *entry {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = l.Close()
		return nil
	}
	e, ok := r.entries[id]
	if !ok {
		e = &entry{name: name}
		r.entries[id] = e
	}
	e.listeners = append(e.listeners, l)
	r.mu.Unlock()
	return e
}

// Deactivate closes every listener recorded for the container and removes
// its entry. Tunnels already accepted are left running. Deactivating a
// container without an entry is a no-op.
func (r *Registry) Deactivate(ctx context.Context, id model.ContainerID) {
	unlock := r.keys.lock(id)
	defer unlock()

	r.mu.Lock()
	e := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if e == nil {
		r.log.WithField("container", id.Short()).Debug("container has no listeners, nothing to deactivate")
		return
	}

	name := r.lookupName(ctx, id, e.name)
	log := r.log.WithField("container", name)
	for _, l := range e.listeners {
		if err := l.Close(); err != nil {
			log.WithError(err).WithField("port", l.Port()).Warn("closing listener")
		}
	}
	log.Infof("deactivated %s, closed %d listeners", name, len(e.listeners))
}

// lookupName asks Docker for the current container name. When the
// container is already gone it falls back to the last-known name, and to
// model.UnknownContainerName if there is none.
func (r *Registry) lookupName(ctx context.Context, id model.ContainerID, lastKnown string) string {
	details, err := r.inspector.InspectContainer(ctx, id)
	if err == nil && details.Name != "" {
		return details.Name
	}

	if err != nil && !cerrdefs.IsNotFound(err) {
		r.log.WithError(err).WithField("container", id.Short()).Debug("inspect failed during deactivate")
	}
	if lastKnown != "" {
		return lastKnown
	}
	return model.UnknownContainerName
}

// Snapshot returns the open local ports per container, sorted ascending.
func (r *Registry) Snapshot() map[model.ContainerID][]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[model.ContainerID][]int, len(r.entries))
	for id, e := range r.entries {
		ports := make([]int, 0, len(e.listeners))
		for _, l := range e.listeners {
			ports = append(ports, l.Port())
		}
		sort.Ints(ports)
		out[id] = ports
	}
	return out
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Shutdown closes every listener and refuses further activations. It then
// waits for live tunnels to finish until ctx is done, and force-closes the
// ones still running at that point. Shutdown is safe to call more than once.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	entries := r.entries
	r.entries = make(map[model.ContainerID]*entry)
	r.mu.Unlock()

	closedListeners := 0
	for _, e := range entries {
		for _, l := range e.listeners {
			_ = l.Close()
			<-l.Done()
			closedListeners++
		}
	}
	r.log.Infof("closed %d listeners", closedListeners)

	if r.tracker == nil {
		return
	}

	if active := r.tracker.Active(); active > 0 {
		r.log.Infof("waiting for %d tunnels to finish", active)
	}
	if err := r.tracker.Wait(ctx); err != nil {
		n := r.tracker.CloseAll()
		r.log.Warnf("grace period expired, force-closed %d tunnels", n)
		return
	}
	r.tracker.CloseAll()
}
