package stream

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jakubmeysner/kobweb/internal/apis"
	"github.com/jakubmeysner/kobweb/internal/config"
	"github.com/jakubmeysner/kobweb/internal/logging"
	"github.com/jakubmeysner/kobweb/internal/metrics"
)

// multiplexFramePrefix marks this package's dispatch frames so dev traces
// stop where handler code begins.
const multiplexFramePrefix = "github.com/jakubmeysner/kobweb/internal/stream."

// Multiplexer serves the single websocket endpoint that carries every API
// stream. Each connection becomes a Session; inbound frames select a route
// and one of the connect, text or disconnect transitions, which are
// delivered to the bundle in arrival order. Outbound sends and broadcasts
// go through per-session serialized writes.
type Multiplexer struct {
	registry *Registry
	bundle   apis.Bundle
	env      config.Environment
	cfg      config.StreamingConfig
	stop     apis.FrameFilter
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	dropLog  rate.Sometimes
}

// NewMultiplexer builds a multiplexer delivering stream events to bundle.
// stop extends the trace truncation predicate with the bundle loader's own
// glue frames.
func NewMultiplexer(bundle apis.Bundle, env config.Environment, cfg config.StreamingConfig, stop apis.FrameFilter) *Multiplexer {
	return &Multiplexer{
		registry: NewRegistry(),
		bundle:   bundle,
		env:      env,
		cfg:      cfg,
		stop:     stop,
		upgrader: websocket.Upgrader{
			// Origin policy is enforced by the CORS middleware before the
			// upgrade ever runs.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dropLog: rate.Sometimes{First: 3, Interval: time.Minute},
	}
}

// SetMetrics installs the instruments fed by session and message counts.
// A nil Metrics keeps everything a no-op.
func (m *Multiplexer) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
}

// Sessions counts currently open websocket sessions.
func (m *Multiplexer) Sessions() int {
	return m.registry.Len()
}

// CloseAll force-closes every live session. http.Server.Shutdown does not
// wait for hijacked connections, so shutdown closes them here; each
// session's receive loop then runs its own cleanup.
func (m *Multiplexer) CloseAll() {
	m.registry.Range(func(s *Session) bool {
		s.close()
		return true
	})
}

func (m *Multiplexer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logging.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	s := newSession(conn, m.cfg.Timeout)
	id := m.registry.register(s)
	m.metrics.StreamOpened()
	defer m.cleanup(r.Context(), s)

	logging.Debug("stream session opened",
		zap.Uint64("client_id", uint64(id)),
		zap.String("remote", r.RemoteAddr))

	if m.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(m.cfg.MaxMessageSize)
	}

	if m.cfg.PingPeriod > 0 {
		conn.SetReadDeadline(time.Now().Add(m.readWait()))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(m.readWait()))
		})
		stopPing := make(chan struct{})
		defer close(stopPing)
		go m.pingLoop(s, stopPing)
	}

	m.receiveLoop(r.Context(), s)
}

// readWait is how long a client may stay silent before the read side gives
// up on it: one ping interval plus the write timeout the pong has to cover.
func (m *Multiplexer) readWait() time.Duration {
	return m.cfg.PingPeriod + m.cfg.Timeout
}

func (m *Multiplexer) pingLoop(s *Session, stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.ping(); err != nil {
				s.close()
				return
			}
		}
	}
}

// receiveLoop processes inbound frames until the connection dies. It is
// the sole reader and the sole mutator of the session's route set, so the
// bundle observes a totally ordered event stream per session.
func (m *Multiplexer) receiveLoop(ctx context.Context, s *Session) {
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.isClosed() || websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				logging.Debug("stream session closing", zap.Uint64("client_id", uint64(s.ID())))
			} else {
				logging.Error("stream session read failed",
					zap.Uint64("client_id", uint64(s.ID())),
					zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		msg, err := decodeClientMessage(data)
		if err != nil {
			logging.Warn("dropping malformed stream frame",
				zap.Uint64("client_id", uint64(s.ID())),
				zap.Error(err))
			continue
		}
		m.metrics.StreamMessageIn()
		m.handleMessage(ctx, s, msg)
	}
}

func (m *Multiplexer) handleMessage(ctx context.Context, s *Session, msg clientMessage) {
	switch msg.kind {
	case payloadConnect:
		if !s.subscribe(msg.route) {
			logging.Debug("connect for already subscribed route ignored",
				zap.String("route", msg.route), zap.Uint64("client_id", uint64(s.ID())))
			return
		}
		m.deliver(ctx, s, msg.route, apis.ClientConnectedEvent{
			Route:    msg.route,
			ClientID: s.ID(),
			Stream:   &routeStream{mux: m, session: s, route: msg.route},
		})

	case payloadText:
		if !s.subscribed(msg.route) {
			logging.Debug("text for unsubscribed route ignored",
				zap.String("route", msg.route), zap.Uint64("client_id", uint64(s.ID())))
			return
		}
		m.deliver(ctx, s, msg.route, apis.TextEvent{
			Route:    msg.route,
			ClientID: s.ID(),
			Text:     msg.text,
			Stream:   &routeStream{mux: m, session: s, route: msg.route},
		})

	case payloadDisconnect:
		if !s.subscribed(msg.route) {
			logging.Debug("disconnect for unsubscribed route ignored",
				zap.String("route", msg.route), zap.Uint64("client_id", uint64(s.ID())))
			return
		}
		m.disconnectRoute(ctx, s, msg.route)
	}
}

// disconnectRoute drops one (session, route) subscription and tells the
// bundle. Closing the last route closes the websocket. Unsubscribing first
// makes re-entry a no-op, so a handler that fails while processing its own
// disconnect cannot loop.
func (m *Multiplexer) disconnectRoute(ctx context.Context, s *Session, route string) {
	removed, remaining := s.unsubscribe(route)
	if !removed {
		return
	}
	m.deliver(ctx, s, route, apis.ClientDisconnectedEvent{Route: route, ClientID: s.ID()})
	if remaining == 0 {
		s.close()
	}
}

// deliver hands one event to the bundle. A failed handler is logged with
// the full trace, answered with a ServerError frame on the originating
// session, and the (session, route) pair is disconnected.
func (m *Multiplexer) deliver(ctx context.Context, s *Session, route string, event apis.StreamEvent) {
	err := m.invoke(ctx, event)
	if err == nil {
		return
	}

	logging.Error("stream handler failed",
		zap.String("route", route),
		zap.Uint64("client_id", uint64(s.ID())),
		zap.String("event", eventName(event)),
		zap.String("trace", apis.FormatTruncated(err, nil)))

	var callstack *string
	if m.env == config.EnvDev {
		cs := apis.FormatTruncated(err, m.stopFrame)
		callstack = &cs
	}
	if frame, encErr := encodeServerError(route, callstack); encErr == nil {
		if s.write(frame) == nil {
			m.metrics.StreamMessageOut()
		}
	}

	m.disconnectRoute(ctx, s, route)
}

// invoke calls the bundle, converting panics into errors carrying the
// panicking stack.
func (m *Multiplexer) invoke(ctx context.Context, event apis.StreamEvent) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = apis.RecoveredError(v)
		}
	}()
	return m.bundle.HandleStream(ctx, event)
}

// stopFrame hides this package's frames plus whatever the bundle loader
// marked as glue.
func (m *Multiplexer) stopFrame(f apis.Frame) bool {
	if strings.HasPrefix(f.Function, multiplexFramePrefix) {
		return true
	}
	return m.stop != nil && m.stop(f)
}

// cleanup runs when a receive loop exits for any reason. Every route still
// subscribed gets its disconnect event before the session is forgotten.
func (m *Multiplexer) cleanup(ctx context.Context, s *Session) {
	s.close()
	for _, route := range s.routesSnapshot() {
		m.disconnectRoute(ctx, s, route)
	}
	m.registry.unregister(s.ID())
	m.metrics.StreamClosed()
	logging.Debug("stream session removed", zap.Uint64("client_id", uint64(s.ID())))
}

func eventName(event apis.StreamEvent) string {
	switch event.(type) {
	case apis.ClientConnectedEvent:
		return "connect"
	case apis.TextEvent:
		return "text"
	case apis.ClientDisconnectedEvent:
		return "disconnect"
	}
	return "unknown"
}

// routeStream is the per-(session, route) capability handed to bundle
// stream handlers.
type routeStream struct {
	mux     *Multiplexer
	session *Session
	route   string
}

func (h *routeStream) ClientID() apis.ClientID {
	return h.session.ID()
}

func (h *routeStream) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := encodeText(h.route, text)
	if err != nil {
		return err
	}
	if err := h.session.write(frame); err != nil {
		return err
	}
	h.mux.metrics.StreamMessageOut()
	return nil
}

// Broadcast sends to every session subscribed to this route whose id
// passes filter, over a registry snapshot. A peer whose write fails is
// closed and skipped; the rest still receive the message.
func (h *routeStream) Broadcast(ctx context.Context, text string, filter func(apis.ClientID) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := encodeText(h.route, text)
	if err != nil {
		return err
	}

	recipients := 0
	h.mux.registry.Range(func(peer *Session) bool {
		if !peer.subscribed(h.route) {
			return true
		}
		if filter != nil && !filter(peer.ID()) {
			return true
		}
		if err := peer.write(frame); err != nil {
			h.mux.dropLog.Do(func() {
				logging.Warn("Dropping broadcast recipient",
					zap.String("route", h.route),
					zap.Uint64("client", uint64(peer.ID())),
					zap.Error(err))
			})
			return true
		}
		recipients++
		h.mux.metrics.StreamMessageOut()
		return true
	})
	h.mux.metrics.ObserveBroadcast(recipients)
	return nil
}

func (h *routeStream) Disconnect(ctx context.Context) error {
	h.mux.disconnectRoute(ctx, h.session, h.route)
	return nil
}
