// Package dispatch translates Docker container lifecycle into registry
// operations.
//
// The Dispatcher is a single goroutine. It first seeds the registry from
// the list of running containers, then applies lifecycle events one at a
// time in arrival order:
//
//	start ──▶ Activate(id)
//	die   ──▶ Deactivate(id)
//	other ──▶ ignored
//
// The event subscription is opened before the enumeration so that
// transitions racing with startup are queued instead of lost. The end of
// the event stream is fatal: without events the registry would silently
// drift from what Docker is running.
package dispatch

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/shinji-kodama/docker-port-forward/internal/model"
)

// Source supplies the running containers and their lifecycle events.
// The Docker gateway client satisfies it.
type Source interface {
	ListRunning(ctx context.Context) ([]model.ContainerID, error)
	Subscribe(ctx context.Context) (<-chan model.RawEvent, <-chan error)
}

// Target receives the activate/deactivate calls. The listener registry
// satisfies it.
type Target interface {
	Activate(ctx context.Context, id model.ContainerID) error
	Deactivate(ctx context.Context, id model.ContainerID)
}

// Dispatcher drives a Target from a Source.
type Dispatcher struct {
	source Source
	target Target
	log    logrus.FieldLogger
}

// New creates a Dispatcher.
func New(source Source, target Target, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{source: source, target: target, log: log}
}

// Run seeds the target and then processes events until ctx is done or the
// event stream ends.
//
// It returns nil when ctx is cancelled. A failed enumeration is returned as
// is (the gateway reports it with ExitDockerNotRunning). A lost event
// stream is returned as a model.CLIError with ExitEventStreamLost that
// wraps model.ErrEventStreamClosed.
func (d *Dispatcher) Run(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, errs := d.source.Subscribe(subCtx)

	ids, err := d.source.ListRunning(ctx)
	if err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			return err
		}
		return model.WrapCLIError(model.ExitDockerNotRunning, "failed to enumerate running containers", err)
	}

	for _, id := range ids {
		d.activate(ctx, id)
	}
	d.log.Infof("seeded %d running containers, watching Docker events", len(ids))

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-errs:
			return d.streamLost(ctx, err)

		case raw, ok := <-events:
			if !ok {
				select {
				case err := <-errs:
					return d.streamLost(ctx, err)
				default:
					return d.streamLost(ctx, nil)
				}
			}
			d.handle(ctx, raw)
		}
	}
}

// handle applies one event to the target.
func (d *Dispatcher) handle(ctx context.Context, raw model.RawEvent) {
	ev, err := model.ParseLifecycleEvent(raw)
	if err != nil {
		d.log.WithError(err).Warn("skipping malformed Docker event")
		return
	}

	switch ev.Kind {
	case model.EventStarted:
		d.activate(ctx, ev.ContainerID)
	case model.EventDied:
		d.target.Deactivate(ctx, ev.ContainerID)
	default:
		d.log.WithField("container", ev.ContainerID.Short()).
			Debugf("ignoring %q event", ev.RawStatus)
	}
}

func (d *Dispatcher) activate(ctx context.Context, id model.ContainerID) {
	if err := d.target.Activate(ctx, id); err != nil {
		d.log.WithError(err).WithField("container", id.Short()).
			Warn("cannot forward ports for container")
	}
}

// streamLost builds the fatal error for an ended event stream. An end
// caused by cancellation is not an error.
func (d *Dispatcher) streamLost(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		err = model.ErrEventStreamClosed
	}
	if !errors.Is(err, model.ErrEventStreamClosed) {
		err = errors.Join(model.ErrEventStreamClosed, err)
	}

	d.log.WithError(err).Error("lost the Docker event stream, listeners can no longer be kept in sync")
	return model.WrapCLIError(model.ExitEventStreamLost, "Docker event stream ended", err)
}
