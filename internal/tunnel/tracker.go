package tunnel

import (
	"context"
	"net"
	"sync"
)

// session is the Tracker's record of one tunnel. The remote connection is
// attached once the dial succeeds.
type session struct {
	mu     sync.Mutex
	client net.Conn
	remote net.Conn
	forced bool
}

// attach records the outbound connection. It returns false when the session
// was force-closed while the dial was in flight; the caller owns remote then.
func (s *session) attach(remote net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forced {
		return false
	}
	s.remote = remote
	return true
}

// forceClose closes both ends without waiting for pending I/O.
func (s *session) forceClose() {
	s.mu.Lock()
	s.forced = true
	client, remote := s.client, s.remote
	s.mu.Unlock()

	_ = client.Close()
	if remote != nil {
		_ = remote.Close()
	}
}

func (s *session) wasForced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forced
}

// Tracker holds every live tunnel of the process.
// It is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	sessions map[*session]struct{}
	drained  chan struct{}
	closed   bool
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[*session]struct{})}
}

// add registers a session. After CloseAll no new sessions are accepted.
func (t *Tracker) add(s *session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.sessions[s] = struct{}{}
	return true
}

// remove deregisters a session and wakes Wait when the last one is gone.
func (t *Tracker) remove(s *session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, s)
	if len(t.sessions) == 0 && t.drained != nil {
		close(t.drained)
		t.drained = nil
	}
}

// Active returns the number of live tunnels.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Wait blocks until no tunnels are live or ctx is done, in which case it
// returns ctx.Err().
func (t *Tracker) Wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		if len(t.sessions) == 0 {
			t.mu.Unlock()
			return nil
		}
		if t.drained == nil {
			t.drained = make(chan struct{})
		}
		drained := t.drained
		t.mu.Unlock()

		select {
		case <-drained:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CloseAll force-closes every live tunnel, refuses new ones, and returns
// how many were closed. The relay goroutines still deregister themselves.
func (t *Tracker) CloseAll() int {
	t.mu.Lock()
	t.closed = true
	victims := make([]*session, 0, len(t.sessions))
	for s := range t.sessions {
		victims = append(victims, s)
	}
	t.mu.Unlock()

	for _, s := range victims {
		s.forceClose()
	}
	return len(victims)
}
