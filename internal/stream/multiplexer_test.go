package stream

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/jakubmeysner/kobweb/internal/apis"
	"github.com/jakubmeysner/kobweb/internal/config"
)

type recordedEvent struct {
	kind     string
	route    string
	clientID apis.ClientID
	text     string
}

// streamBundle records every delivered event and optionally runs a hook
// after recording.
type streamBundle struct {
	mu      sync.Mutex
	events  []recordedEvent
	onEvent func(event apis.StreamEvent) error
}

func (b *streamBundle) Handle(ctx context.Context, path string, req *apis.Request) (*apis.Response, error) {
	return nil, nil
}

func (b *streamBundle) NumStreams() int { return 1 }

func (b *streamBundle) HandleStream(ctx context.Context, event apis.StreamEvent) error {
	b.mu.Lock()
	switch e := event.(type) {
	case apis.ClientConnectedEvent:
		b.events = append(b.events, recordedEvent{kind: "connect", route: e.Route, clientID: e.ClientID})
	case apis.TextEvent:
		b.events = append(b.events, recordedEvent{kind: "text", route: e.Route, clientID: e.ClientID, text: e.Text})
	case apis.ClientDisconnectedEvent:
		b.events = append(b.events, recordedEvent{kind: "disconnect", route: e.Route, clientID: e.ClientID})
	}
	hook := b.onEvent
	b.mu.Unlock()

	if hook != nil {
		return hook(event)
	}
	return nil
}

func (b *streamBundle) snapshot() []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]recordedEvent, len(b.events))
	copy(out, b.events)
	return out
}

func (b *streamBundle) waitEvents(t *testing.T, n int) []recordedEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		evs := b.snapshot()
		if len(evs) >= n {
			return evs
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d events, have %+v", n, evs)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startStream(t *testing.T, bundle apis.Bundle, env config.Environment, cfg config.StreamingConfig) (*Multiplexer, string) {
	t.Helper()
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	mux := NewMultiplexer(bundle, env, cfg, apis.DefaultFrameFilter)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return mux, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialStream(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("expected text frame, got type %d", kind)
	}
	return string(data)
}

func expectEvent(t *testing.T, got recordedEvent, kind, route string, id apis.ClientID) {
	t.Helper()
	if got.kind != kind || got.route != route || got.clientID != id {
		t.Errorf("expected %s on %s for client %d, got %+v", kind, route, id, got)
	}
}

func TestStreamLifecycle(t *testing.T) {
	bundle := &streamBundle{}
	_, url := startStream(t, bundle, config.EnvDev, config.StreamingConfig{})

	conn := dialStream(t, url)
	sendFrame(t, conn, `{"route":"chat","payload":"Connect"}`)
	sendFrame(t, conn, `{"route":"chat","payload":{"Text":{"text":"hi"}}}`)
	bundle.waitEvents(t, 2)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	evs := bundle.waitEvents(t, 3)
	id := evs[0].clientID
	expectEvent(t, evs[0], "connect", "chat", id)
	expectEvent(t, evs[1], "text", "chat", id)
	if evs[1].text != "hi" {
		t.Errorf("expected text %q, got %q", "hi", evs[1].text)
	}
	expectEvent(t, evs[2], "disconnect", "chat", id)
}

func TestStreamMultipleRoutes(t *testing.T) {
	bundle := &streamBundle{}
	_, url := startStream(t, bundle, config.EnvDev, config.StreamingConfig{})

	conn := dialStream(t, url)
	sendFrame(t, conn, `{"route":"chat","payload":"Connect"}`)
	sendFrame(t, conn, `{"route":"news","payload":"Connect"}`)
	sendFrame(t, conn, `{"route":"chat","payload":"Disconnect"}`)
	sendFrame(t, conn, `{"route":"news","payload":{"Text":{"text":"still here"}}}`)

	evs := bundle.waitEvents(t, 4)
	id := evs[0].clientID
	expectEvent(t, evs[0], "connect", "chat", id)
	expectEvent(t, evs[1], "connect", "news", id)
	expectEvent(t, evs[2], "disconnect", "chat", id)
	expectEvent(t, evs[3], "text", "news", id)

	// Dropping the last route closes the websocket from the server side.
	sendFrame(t, conn, `{"route":"news","payload":"Disconnect"}`)
	evs = bundle.waitEvents(t, 5)
	expectEvent(t, evs[4], "disconnect", "news", id)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected socket to close after last disconnect")
	}
}

func TestBroadcastFilter(t *testing.T) {
	var exclude atomic.Uint64
	bundle := &streamBundle{}
	bundle.onEvent = func(event apis.StreamEvent) error {
		if e, ok := event.(apis.TextEvent); ok {
			return e.Stream.Broadcast(context.Background(), e.Text, func(id apis.ClientID) bool {
				return uint64(id) != exclude.Load()
			})
		}
		return nil
	}
	_, url := startStream(t, bundle, config.EnvDev, config.StreamingConfig{})

	// Connect sequentially so each session's id is known before the next
	// dial.
	first := dialStream(t, url)
	sendFrame(t, first, `{"route":"chat","payload":"Connect"}`)
	bundle.waitEvents(t, 1)

	second := dialStream(t, url)
	sendFrame(t, second, `{"route":"chat","payload":"Connect"}`)
	evs := bundle.waitEvents(t, 2)
	exclude.Store(uint64(evs[1].clientID))

	third := dialStream(t, url)
	sendFrame(t, third, `{"route":"chat","payload":"Connect"}`)
	bundle.waitEvents(t, 3)

	sendFrame(t, first, `{"route":"chat","payload":{"Text":{"text":"hello"}}}`)

	want := `{"route":"chat","payload":{"Text":{"text":"hello"}}}`
	if got := readFrame(t, first); got != want {
		t.Errorf("sender expected its own broadcast %s, got %s", want, got)
	}
	if got := readFrame(t, third); got != want {
		t.Errorf("third expected broadcast %s, got %s", want, got)
	}

	second.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, data, err := second.ReadMessage(); err == nil {
		t.Errorf("filtered session expected no frame, got %s", data)
	}
}

func TestClientIDsNeverReused(t *testing.T) {
	bundle := &streamBundle{}
	_, url := startStream(t, bundle, config.EnvDev, config.StreamingConfig{})

	conn := dialStream(t, url)
	sendFrame(t, conn, `{"route":"chat","payload":"Connect"}`)
	evs := bundle.waitEvents(t, 1)
	firstID := evs[0].clientID

	conn.Close()
	bundle.waitEvents(t, 2)

	conn = dialStream(t, url)
	sendFrame(t, conn, `{"route":"chat","payload":"Connect"}`)
	evs = bundle.waitEvents(t, 3)
	if evs[2].clientID <= firstID {
		t.Errorf("expected a fresh client id after %d, got %d", firstID, evs[2].clientID)
	}
}

func TestBinaryFramesIgnored(t *testing.T) {
	bundle := &streamBundle{}
	_, url := startStream(t, bundle, config.EnvDev, config.StreamingConfig{})

	conn := dialStream(t, url)
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte(`{"route":"chat","payload":"Connect"}`)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if evs := bundle.snapshot(); len(evs) != 0 {
		t.Fatalf("expected binary frame to be ignored, got %+v", evs)
	}

	sendFrame(t, conn, `{"route":"chat","payload":"Connect"}`)
	bundle.waitEvents(t, 1)
}

func TestFramesForUnsubscribedRouteIgnored(t *testing.T) {
	bundle := &streamBundle{}
	_, url := startStream(t, bundle, config.EnvDev, config.StreamingConfig{})

	conn := dialStream(t, url)
	sendFrame(t, conn, `{"route":"chat","payload":{"Text":{"text":"nope"}}}`)
	sendFrame(t, conn, `{"route":"chat","payload":"Disconnect"}`)
	time.Sleep(150 * time.Millisecond)
	if evs := bundle.snapshot(); len(evs) != 0 {
		t.Fatalf("expected no events before connect, got %+v", evs)
	}

	// The socket must survive the ignored frames.
	sendFrame(t, conn, `{"route":"chat","payload":"Connect"}`)
	evs := bundle.waitEvents(t, 1)
	expectEvent(t, evs[0], "connect", "chat", evs[0].clientID)
}

func TestDuplicateConnectIgnored(t *testing.T) {
	bundle := &streamBundle{}
	_, url := startStream(t, bundle, config.EnvDev, config.StreamingConfig{})

	conn := dialStream(t, url)
	sendFrame(t, conn, `{"route":"chat","payload":"Connect"}`)
	sendFrame(t, conn, `{"route":"chat","payload":"Connect"}`)
	sendFrame(t, conn, `{"route":"chat","payload":{"Text":{"text":"once"}}}`)

	evs := bundle.waitEvents(t, 2)
	if evs[0].kind != "connect" || evs[1].kind != "text" {
		t.Errorf("expected single connect then text, got %+v", evs)
	}
}

func TestSendFromConnectHandler(t *testing.T) {
	bundle := &streamBundle{}
	bundle.onEvent = func(event apis.StreamEvent) error {
		if e, ok := event.(apis.ClientConnectedEvent); ok {
			return e.Stream.Send(context.Background(), "welcome")
		}
		return nil
	}
	_, url := startStream(t, bundle, config.EnvDev, config.StreamingConfig{})

	conn := dialStream(t, url)
	sendFrame(t, conn, `{"route":"chat","payload":"Connect"}`)

	want := `{"route":"chat","payload":{"Text":{"text":"welcome"}}}`
	if got := readFrame(t, conn); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestHandlerDisconnectsSession(t *testing.T) {
	bundle := &streamBundle{}
	bundle.onEvent = func(event apis.StreamEvent) error {
		if e, ok := event.(apis.TextEvent); ok && e.Text == "leave" {
			return e.Stream.Disconnect(context.Background())
		}
		return nil
	}
	_, url := startStream(t, bundle, config.EnvDev, config.StreamingConfig{})

	conn := dialStream(t, url)
	sendFrame(t, conn, `{"route":"chat","payload":"Connect"}`)
	sendFrame(t, conn, `{"route":"chat","payload":{"Text":{"text":"leave"}}}`)

	evs := bundle.waitEvents(t, 3)
	id := evs[0].clientID
	expectEvent(t, evs[0], "connect", "chat", id)
	expectEvent(t, evs[1], "text", "chat", id)
	expectEvent(t, evs[2], "disconnect", "chat", id)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected socket to close after handler disconnect")
	}
}

func TestHandlerFailureDev(t *testing.T) {
	bundle := &streamBundle{}
	bundle.onEvent = func(event apis.StreamEvent) error {
		if _, ok := event.(apis.TextEvent); ok {
			panic(errors.New("boom"))
		}
		return nil
	}
	_, url := startStream(t, bundle, config.EnvDev, config.StreamingConfig{})

	conn := dialStream(t, url)
	sendFrame(t, conn, `{"route":"chat","payload":"Connect"}`)
	sendFrame(t, conn, `{"route":"chat","payload":{"Text":{"text":"hi"}}}`)

	frame := readFrame(t, conn)
	callstack := gjson.Get(frame, "payload.ServerError.callstack")
	if !callstack.Exists() {
		t.Fatalf("expected dev error frame with callstack, got %s", frame)
	}
	if !strings.Contains(callstack.Str, "boom") {
		t.Errorf("expected callstack to name the failure, got %q", callstack.Str)
	}
	if strings.Contains(callstack.Str, "runtime.gopanic") {
		t.Errorf("expected runtime frames to be hidden, got %q", callstack.Str)
	}

	// The failing (session, route) pair is disconnected and, being the
	// last route, the socket closes.
	evs := bundle.waitEvents(t, 3)
	expectEvent(t, evs[2], "disconnect", "chat", evs[0].clientID)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected socket to close after handler failure")
	}
}

func TestHandlerFailureProd(t *testing.T) {
	bundle := &streamBundle{}
	bundle.onEvent = func(event apis.StreamEvent) error {
		if _, ok := event.(apis.TextEvent); ok {
			return errors.New("boom")
		}
		return nil
	}
	_, url := startStream(t, bundle, config.EnvProd, config.StreamingConfig{})

	conn := dialStream(t, url)
	sendFrame(t, conn, `{"route":"chat","payload":"Connect"}`)
	sendFrame(t, conn, `{"route":"chat","payload":{"Text":{"text":"hi"}}}`)

	want := `{"route":"chat","payload":{"ServerError":{}}}`
	if got := readFrame(t, conn); got != want {
		t.Errorf("expected opaque error frame %s, got %s", want, got)
	}

	evs := bundle.waitEvents(t, 3)
	expectEvent(t, evs[2], "disconnect", "chat", evs[0].clientID)
}

func TestKeepalivePings(t *testing.T) {
	bundle := &streamBundle{}
	_, url := startStream(t, bundle, config.EnvDev, config.StreamingConfig{
		PingPeriod: 100 * time.Millisecond,
		Timeout:    300 * time.Millisecond,
	})

	conn := dialStream(t, url)
	// The default ping handler pongs as long as something is reading.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sendFrame(t, conn, `{"route":"chat","payload":"Connect"}`)
	bundle.waitEvents(t, 1)

	// Stay silent past the read deadline window; pongs must keep the
	// session alive.
	time.Sleep(900 * time.Millisecond)

	sendFrame(t, conn, `{"route":"chat","payload":{"Text":{"text":"still alive"}}}`)
	evs := bundle.waitEvents(t, 2)
	if evs[1].kind != "text" || evs[1].text != "still alive" {
		t.Errorf("expected text after keepalive window, got %+v", evs[1])
	}
}

func TestCloseAll(t *testing.T) {
	bundle := &streamBundle{}
	mux, url := startStream(t, bundle, config.EnvDev, config.StreamingConfig{})

	first := dialStream(t, url)
	second := dialStream(t, url)
	sendFrame(t, first, `{"route":"chat","payload":"Connect"}`)
	sendFrame(t, second, `{"route":"chat","payload":"Connect"}`)
	bundle.waitEvents(t, 2)

	if mux.Sessions() != 2 {
		t.Fatalf("expected 2 sessions, got %d", mux.Sessions())
	}

	mux.CloseAll()

	// Receive loops notice the closed connections and run cleanup.
	evs := bundle.waitEvents(t, 4)
	disconnects := 0
	for _, ev := range evs {
		if ev.kind == "disconnect" {
			disconnects++
		}
	}
	if disconnects != 2 {
		t.Errorf("expected 2 disconnect events, got %d", disconnects)
	}

	deadline := time.Now().Add(2 * time.Second)
	for mux.Sessions() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected registry to drain, still %d sessions", mux.Sessions())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
