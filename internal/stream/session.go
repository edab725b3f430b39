package stream

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jakubmeysner/kobweb/internal/apis"
)

// ErrSessionClosed is returned by sends on a session whose websocket has
// already been torn down.
var ErrSessionClosed = errors.New("stream session closed")

// Session wraps one websocket connection and the set of stream routes it
// has subscribed to. Writes are serialized through a mutex since gorilla
// permits only one concurrent writer, and every write carries a deadline:
// a client that cannot drain its socket within the timeout is dropped
// rather than allowed to stall broadcasts behind it indefinitely.
type Session struct {
	id   apis.ClientID
	conn *websocket.Conn

	routesMu sync.RWMutex
	routes   map[string]struct{}

	writeMu sync.Mutex
	timeout time.Duration
	closed  atomic.Bool
}

func newSession(conn *websocket.Conn, timeout time.Duration) *Session {
	return &Session{
		conn:    conn,
		routes:  make(map[string]struct{}),
		timeout: timeout,
	}
}

// ID returns the session's client id.
func (s *Session) ID() apis.ClientID {
	return s.id
}

// subscribe adds route to the session's set, reporting whether it was new.
func (s *Session) subscribe(route string) bool {
	s.routesMu.Lock()
	defer s.routesMu.Unlock()
	if _, ok := s.routes[route]; ok {
		return false
	}
	s.routes[route] = struct{}{}
	return true
}

// unsubscribe removes route, reporting whether it was present and how many
// routes remain.
func (s *Session) unsubscribe(route string) (bool, int) {
	s.routesMu.Lock()
	defer s.routesMu.Unlock()
	if _, ok := s.routes[route]; !ok {
		return false, len(s.routes)
	}
	delete(s.routes, route)
	return true, len(s.routes)
}

// subscribed reports whether the session is on route.
func (s *Session) subscribed(route string) bool {
	s.routesMu.RLock()
	defer s.routesMu.RUnlock()
	_, ok := s.routes[route]
	return ok
}

// routesSnapshot copies the current route set.
func (s *Session) routesSnapshot() []string {
	s.routesMu.RLock()
	defer s.routesMu.RUnlock()
	out := make([]string, 0, len(s.routes))
	for r := range s.routes {
		out = append(out, r)
	}
	return out
}

// write sends one text frame, bounded by the session timeout. A failed or
// timed-out write closes the session; its receive loop then runs cleanup.
func (s *Session) write(data []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.close()
		return err
	}
	return nil
}

// ping sends a control ping, bounded by the session timeout.
func (s *Session) ping() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.timeout))
}

// close tears the connection down once; later sends fail with
// ErrSessionClosed.
func (s *Session) close() {
	if s.closed.CompareAndSwap(false, true) {
		s.conn.Close()
	}
}

// isClosed reports whether close has run.
func (s *Session) isClosed() bool {
	return s.closed.Load()
}
