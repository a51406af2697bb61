package tunnel

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shinji-kodama/docker-port-forward/internal/model"
)

// Dialer opens the outbound connection of a tunnel. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// side identifies which end of a tunnel an error came from.
type side int

const (
	sideClient side = iota
	sideRemote
)

// sourceError tags an error returned by the source of a copy, so that a
// read failure on one end is not mistaken for a write failure on the other.
type sourceError struct {
	err error
}

func (e *sourceError) Error() string { return e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

type taggedReader struct {
	r io.Reader
}

func (t taggedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		err = &sourceError{err: err}
	}
	return n, err
}

// copyResult is the outcome of one direction of a tunnel.
type copyResult struct {
	// src is the end the bytes were read from.
	src side

	// dst is the connection the bytes were written to.
	dst net.Conn

	bytes int64

	// err is nil when the source reached EOF.
	err error
}

// failedSide returns the end that caused a copy error.
func (r copyResult) failedSide() side {
	var srcErr *sourceError
	if errors.As(r.err, &srcErr) {
		return r.src
	}
	if r.src == sideClient {
		return sideRemote
	}
	return sideClient
}

// message returns the underlying error text without the source tag.
func (r copyResult) message() string {
	var srcErr *sourceError
	if errors.As(r.err, &srcErr) {
		return srcErr.err.Error()
	}
	return r.err.Error()
}

// Relay forwards accepted client connections to a remote endpoint.
type Relay struct {
	dialer  Dialer
	tracker *Tracker
	log     logrus.FieldLogger
}

// NewRelay creates a Relay that dials with a plain *net.Dialer and records
// its tunnels in tracker.
func NewRelay(tracker *Tracker, log logrus.FieldLogger) *Relay {
	return NewRelayWithDialer(&net.Dialer{}, tracker, log)
}

// NewRelayWithDialer is NewRelay with a custom outbound Dialer.
func NewRelayWithDialer(dialer Dialer, tracker *Tracker, log logrus.FieldLogger) *Relay {
	return &Relay{dialer: dialer, tracker: tracker, log: log}
}

// Serve runs one tunnel for client to cfg's remote address and returns when
// both connections are closed. It takes ownership of client.
func (r *Relay) Serve(ctx context.Context, client net.Conn, cfg model.TunnelConfig) {
	log := r.log.WithFields(logrus.Fields{
		"container": cfg.ContainerName,
		"client":    client.RemoteAddr().String(),
		"local":     client.LocalAddr().String(),
		"remote":    cfg.RemoteAddr(),
	})

	s := &session{client: client}
	if !r.tracker.add(s) {
		log.Debug("shutting down, refusing client")
		_ = client.Close()
		return
	}
	defer r.tracker.remove(s)

	log.Info("client connected")

	remote, err := r.dialer.DialContext(ctx, "tcp", cfg.RemoteAddr())
	if err != nil {
		log.WithError(err).Warnf("remote shut down: %s", err)
		_ = client.Close()
		log.Info("client closed")
		return
	}
	if !s.attach(remote) {
		_ = remote.Close()
		_ = client.Close()
		log.Info("tunnel force-closed")
		return
	}

	up, down := r.splice(log, s, client, remote)
	log.WithFields(logrus.Fields{"bytes_up": up, "bytes_down": down}).Info("tunnel closed")
}

// splice copies both directions until each source half-closes or one end
// fails, then closes both connections. It returns the byte counts sent
// client->remote and remote->client.
func (r *Relay) splice(log logrus.FieldLogger, s *session, client, remote net.Conn) (up, down int64) {
	results := make(chan copyResult, 2)
	go pipe(remote, client, sideClient, results)
	go pipe(client, remote, sideRemote, results)

	terminated := false
	for i := 0; i < 2; i++ {
		res := <-results
		if res.src == sideClient {
			up = res.bytes
		} else {
			down = res.bytes
		}
		if terminated {
			continue
		}

		switch {
		case res.err == nil:
			// Orderly EOF on the source: forward the half-close and keep
			// the other direction running.
			closeWrite(res.dst)

		case s.wasForced():
			terminated = true
			log.Info("tunnel force-closed")

		case res.failedSide() == sideRemote:
			terminated = true
			log.Warnf("remote shut down: %s", res.message())
			_ = client.Close()
			_ = remote.Close()

		default:
			terminated = true
			log.Warnf("client shut down: %s", res.message())
			closeWrite(remote)
			// Unblock the remote reader without resetting the connection.
			_ = remote.SetReadDeadline(time.Now())
			_ = client.Close()
		}
	}

	_ = remote.Close()
	_ = client.Close()
	return up, down
}

// pipe copies src into dst and reports the outcome on results.
// The tagged wrapper hides src from TCPConn.ReadFrom, so the copy always
// goes through a userspace buffer and never uses splice(2).
func pipe(dst, src net.Conn, srcSide side, results chan<- copyResult) {
	n, err := io.Copy(dst, taggedReader{r: src})
	results <- copyResult{src: srcSide, dst: dst, bytes: n, err: err}
}

// closeWrite half-closes c when the transport supports it and closes it
// fully otherwise.
func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
		return
	}
	_ = c.Close()
}
