// container.go implements the read-only container queries and the lifecycle
// event subscription of the Docker gateway.
package docker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/go-connections/nat"

	"github.com/shinji-kodama/docker-port-forward/internal/model"
)

// ListRunning returns the IDs of all running containers. Stopped containers
// publish no ports and are not listed.
func (c *Client) ListRunning(ctx context.Context) ([]model.ContainerID, error) {
	containers, err := c.inner.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			"failed to list Docker containers",
			err,
		)
	}

	ids := make([]model.ContainerID, 0, len(containers))
	for _, ctr := range containers {
		ids = append(ids, model.ContainerID(ctr.ID))
	}
	return ids, nil
}

// InspectContainer returns the name and TCP host port bindings of a
// container. The error from the SDK is returned unwrapped so callers can
// test it with errdefs.IsNotFound.
func (c *Client) InspectContainer(ctx context.Context, id model.ContainerID) (model.ContainerDetails, error) {
	info, err := c.inner.ContainerInspect(ctx, string(id))
	if err != nil {
		return model.ContainerDetails{}, err
	}
	if info.ContainerJSONBase == nil {
		return model.ContainerDetails{}, fmt.Errorf("inspect %s: empty response", id.Short())
	}

	var configured, published nat.PortMap
	if info.HostConfig != nil {
		configured = info.HostConfig.PortBindings
	}
	if info.NetworkSettings != nil {
		published = info.NetworkSettings.Ports
	}

	name := containerName(info.Name)
	bindings, skipped := PortBindings(name, configured, published)
	for _, p := range skipped {
		c.log.WithField("container", name).Debugf("skipping %s binding, only tcp is forwarded", p)
	}
	return model.ContainerDetails{
		ID:       id,
		Name:     name,
		Bindings: bindings,
	}, nil
}

// containerName strips the leading "/" the Docker API puts on names.
func containerName(raw string) string {
	return strings.TrimPrefix(raw, "/")
}

// PortBindings derives the host port bindings of a container.
//
// configured is HostConfig.PortBindings, the ports requested at create time.
// published is NetworkSettings.Ports, the ports the daemon actually bound.
// A configured binding with an empty HostPort (ephemeral assignment) takes
// its port from published; container ports known only from published
// (docker run -P) are included as well.
//
// Only TCP bindings are returned, sorted by port, with duplicates removed
// (e.g. the same host port bound on 0.0.0.0 and ::). Container ports of
// other protocols that carry a host binding are returned in skipped.
func PortBindings(name string, configured, published nat.PortMap) (bindings []model.PortBinding, skipped []nat.Port) {
	keys := make(map[nat.Port]struct{}, len(configured)+len(published))
	for p := range configured {
		keys[p] = struct{}{}
	}
	for p := range published {
		keys[p] = struct{}{}
	}

	seen := make(map[int]struct{})
	for p := range keys {
		hostPorts := hostPortsOf(configured[p])
		if len(hostPorts) == 0 {
			hostPorts = hostPortsOf(published[p])
		}
		if p.Proto() != "tcp" {
			if len(hostPorts) > 0 {
				skipped = append(skipped, p)
			}
			continue
		}

		for _, hp := range hostPorts {
			if _, dup := seen[hp]; dup {
				continue
			}
			b := model.PortBinding{HostPort: hp, ContainerName: name}
			if b.Validate() != nil {
				continue
			}
			seen[hp] = struct{}{}
			bindings = append(bindings, b)
		}
	}

	sort.Slice(bindings, func(i, j int) bool { return bindings[i].HostPort < bindings[j].HostPort })
	sort.Slice(skipped, func(i, j int) bool { return skipped[i] < skipped[j] })
	return bindings, skipped
}

// hostPortsOf expands the HostPort strings of a binding list. Ranges such
// as "8000-8002" are expanded; empty or unparsable values are skipped.
func hostPortsOf(bindings []nat.PortBinding) []int {
	var ports []int
	for _, b := range bindings {
		if b.HostPort == "" {
			continue
		}
		start, end, err := nat.ParsePortRange(b.HostPort)
		if err != nil {
			continue
		}
		for p := start; p <= end; p++ {
			ports = append(ports, int(p))
		}
	}
	return ports
}

// lifecycleFilter limits the event stream to container start and die.
func lifecycleFilter() filters.Args {
	return filters.NewArgs(
		filters.Arg("type", string(events.ContainerEventType)),
		filters.Arg("event", "start"),
		filters.Arg("event", "die"),
	)
}

// Subscribe opens the Docker event stream for container lifecycle events.
//
// Events are delivered in arrival order on the first channel. When the
// stream ends for any reason other than ctx being cancelled, exactly one
// error wrapping model.ErrEventStreamClosed is sent on the second channel
// and the event channel is closed.
func (c *Client) Subscribe(ctx context.Context) (<-chan model.RawEvent, <-chan error) {
	msgs, errs := c.inner.Events(ctx, events.ListOptions{Filters: lifecycleFilter()})
	return forwardEvents(ctx, msgs, errs)
}

// forwardEvents translates SDK event messages into model.RawEvent values.
func forwardEvents(ctx context.Context, msgs <-chan events.Message, errs <-chan error) (<-chan model.RawEvent, <-chan error) {
	out := make(chan model.RawEvent)
	outErr := make(chan error, 1)

	go func() {
		defer close(out)

		fail := func(err error) {
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				outErr <- model.ErrEventStreamClosed
				return
			}
			outErr <- fmt.Errorf("%w: %w", model.ErrEventStreamClosed, err)
		}

		for {
			select {
			case <-ctx.Done():
				return

			case err, ok := <-errs:
				if !ok {
					err = nil
				}
				fail(err)
				return

			case msg, ok := <-msgs:
				if !ok {
					fail(nil)
					return
				}
				raw := model.RawEvent{
					Type:    string(msg.Type),
					Action:  string(msg.Action),
					ActorID: msg.Actor.ID,
				}
				select {
				case out <- raw:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, outErr
}
