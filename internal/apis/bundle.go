package apis

import "context"

// ClientID identifies one websocket session. IDs are assigned
// monotonically and never reused within a process lifetime.
type ClientID uint64

// Bundle is the server's view of the externally supplied API code. How a
// bundle is produced and linked in is the loader's business; the server
// only ever talks to this interface. Implementations must be safe for
// concurrent calls.
type Bundle interface {
	// Handle serves one API call for the given bundle-relative path
	// (always starting with "/"). A nil response with a nil error means
	// the bundle has no handler for the path.
	Handle(ctx context.Context, path string, req *Request) (*Response, error)

	// HandleStream delivers one API stream event. Events for a single
	// session arrive in order; events across sessions may interleave.
	HandleStream(ctx context.Context, event StreamEvent) error

	// NumStreams reports how many API streams the bundle declares. Prod
	// assemblies skip the websocket endpoint entirely when this is zero.
	NumStreams() int
}

// NativeLibraryUser is implemented by bundles that load native libraries.
// The server hands over the configured name-to-path mappings once, before
// any request or stream event is delivered.
type NativeLibraryUser interface {
	SetNativeLibraryMappings(mappings map[string]string)
}

// Stream is the per-(session, route) handle passed to bundle stream
// handlers alongside connect and text events.
type Stream interface {
	// ClientID identifies the session the triggering event came from.
	ClientID() ClientID

	// Send transmits text to this session on this route.
	Send(ctx context.Context, text string) error

	// Broadcast transmits text to every session currently subscribed to
	// this route whose id passes filter. A nil filter sends to all.
	// Delivery to each session is independent; one slow or dead peer does
	// not stop the others.
	Broadcast(ctx context.Context, text string, filter func(ClientID) bool) error

	// Disconnect unsubscribes this session from the route, delivering the
	// matching disconnect event. Closing the last subscribed route closes
	// the websocket.
	Disconnect(ctx context.Context) error
}

// StreamEvent is a lifecycle or data event on one API stream.
type StreamEvent interface {
	streamEvent()
}

// ClientConnectedEvent reports a session subscribing to a stream route.
type ClientConnectedEvent struct {
	Route    string
	ClientID ClientID
	Stream   Stream
}

// TextEvent carries one client text message on a subscribed route.
type TextEvent struct {
	Route    string
	ClientID ClientID
	Text     string
	Stream   Stream
}

// ClientDisconnectedEvent reports a session leaving a stream route. There
// is no Stream handle: the subscription is already gone.
type ClientDisconnectedEvent struct {
	Route    string
	ClientID ClientID
}

func (ClientConnectedEvent) streamEvent()    {}
func (TextEvent) streamEvent()               {}
func (ClientDisconnectedEvent) streamEvent() {}
