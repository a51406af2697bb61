// Package port implements the per-port TCP listener that feeds accepted
// connections to the tunnel relay.
//
// Binding uses the operating system's network stack directly
// (net.ListenConfig.Listen), which is also how bind failures are detected:
// there is no separate availability probe that could race with the bind.
package port

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shinji-kodama/docker-port-forward/internal/model"
)

const (
	// minAcceptBackoff and maxAcceptBackoff bound the pause after a
	// transient accept error such as EMFILE, mirroring net/http.Server.
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Handler serves one accepted connection. The tunnel relay satisfies it.
// Serve owns conn and must close it.
type Handler interface {
	Serve(ctx context.Context, conn net.Conn, cfg model.TunnelConfig)
}

// Listener owns one bound TCP socket for one container port.
//
// Usage:
//
//	l, err := port.Open(ctx, cfg, relay, log)
//	if err != nil { /* *model.BindError: skip this port */ }
//	defer l.Close()
type Listener struct {
	cfg     model.TunnelConfig
	ln      net.Listener
	handler Handler
	log     logrus.FieldLogger

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// Open binds cfg.LocalAddr() and starts the accept loop in a new goroutine.
// ctx is passed to every tunnel the listener spawns; cancelling it does not
// close the listener.
//
// Bind failures are returned as *model.BindError.
func Open(ctx context.Context, cfg model.TunnelConfig, handler Handler, log logrus.FieldLogger) (*Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.LocalAddr())
	if err != nil {
		return nil, &model.BindError{
			Container: cfg.ContainerName,
			Port:      cfg.LocalPort,
			Kind:      ClassifyBindError(err),
			Err:       err,
		}
	}

	// LocalPort 0 asks the OS for a port; record the real one.
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		cfg.LocalPort = tcpAddr.Port
	}

	l := &Listener{
		cfg:     cfg,
		ln:      ln,
		handler: handler,
		log: log.WithFields(logrus.Fields{
			"container": cfg.ContainerName,
			"port":      cfg.LocalPort,
		}),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}

	l.log.Infof("%s is ready for connections on port %d", cfg.ContainerName, cfg.LocalPort)
	go l.acceptLoop(ctx)
	return l, nil
}

// ClassifyBindError maps an OS bind error onto a BindErrorKind.
func ClassifyBindError(err error) model.BindErrorKind {
	switch {
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return model.BindPermissionDenied
	case errors.Is(err, syscall.EADDRINUSE):
		return model.BindAddressInUse
	default:
		return model.BindOther
	}
}

// acceptLoop accepts until the listener is closed. Each connection is
// served in its own goroutine.
func (l *Listener) acceptLoop(ctx context.Context) {
	defer close(l.done)

	var backoff time.Duration
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				l.log.Infof("%s stopped listening for connections on %d", l.cfg.ContainerName, l.cfg.LocalPort)
				return
			}

			// Resource exhaustion and similar errors: log and keep accepting.
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff *= 2
			}
			if backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			l.log.WithError(err).Warnf("accept failed, retrying in %s", backoff)

			select {
			case <-time.After(backoff):
			case <-l.closed:
			}
			continue
		}
		backoff = 0

		go l.handler.Serve(ctx, conn, l.cfg)
	}
}

// Close stops accepting new connections. It returns once the socket is
// closed; the accept loop exits asynchronously (see Done). Tunnels that were
// already accepted keep running. Close is safe to call multiple times.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.ln.Close()
	})
	return err
}

func (l *Listener) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// Done is closed when the accept loop has exited.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Port returns the bound local port.
func (l *Listener) Port() int {
	return l.cfg.LocalPort
}

// Config returns the listener's tunnel configuration.
func (l *Listener) Config() model.TunnelConfig {
	return l.cfg
}
