package stream

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Wire shapes for the multiplexed websocket. Every frame is a JSON object
// carrying the logical route and a tagged payload:
//
//	client → server: {"route": "chat", "payload": "Connect"}
//	                 {"route": "chat", "payload": "Disconnect"}
//	                 {"route": "chat", "payload": {"Text": {"text": "hi"}}}
//	server → client: {"route": "chat", "payload": {"Text": {"text": "hi"}}}
//	                 {"route": "chat", "payload": {"ServerError": {"callstack": "..."}}}

type clientPayloadKind int

const (
	payloadConnect clientPayloadKind = iota
	payloadDisconnect
	payloadText
)

// clientMessage is one decoded inbound frame.
type clientMessage struct {
	route string
	kind  clientPayloadKind
	text  string
}

// decodeClientMessage parses an inbound text frame. The payload tag is a
// bare string for the unit variants and a single-key object for Text.
func decodeClientMessage(data []byte) (clientMessage, error) {
	if !gjson.ValidBytes(data) {
		return clientMessage{}, fmt.Errorf("frame is not valid json")
	}

	route := gjson.GetBytes(data, "route")
	if route.Type != gjson.String || route.Str == "" {
		return clientMessage{}, fmt.Errorf("frame has no route")
	}
	msg := clientMessage{route: route.Str}

	payload := gjson.GetBytes(data, "payload")
	switch {
	case payload.Type == gjson.String && payload.Str == "Connect":
		msg.kind = payloadConnect
	case payload.Type == gjson.String && payload.Str == "Disconnect":
		msg.kind = payloadDisconnect
	case payload.IsObject():
		text := payload.Get("Text.text")
		if !text.Exists() || text.Type != gjson.String {
			return clientMessage{}, fmt.Errorf("unknown payload object for route %q", msg.route)
		}
		msg.kind = payloadText
		msg.text = text.Str
	default:
		return clientMessage{}, fmt.Errorf("unknown payload for route %q", msg.route)
	}

	return msg, nil
}

type serverMessage struct {
	Route   string        `json:"route"`
	Payload serverPayload `json:"payload"`
}

type serverPayload struct {
	Text        *textPayload  `json:"Text,omitempty"`
	ServerError *errorPayload `json:"ServerError,omitempty"`
}

type textPayload struct {
	Text string `json:"text"`
}

type errorPayload struct {
	Callstack *string `json:"callstack,omitempty"`
}

// encodeText builds an outbound text frame for route.
func encodeText(route, text string) ([]byte, error) {
	return json.Marshal(serverMessage{
		Route:   route,
		Payload: serverPayload{Text: &textPayload{Text: text}},
	})
}

// encodeServerError builds an outbound error frame. callstack is only
// populated in dev; a nil callstack omits the field entirely.
func encodeServerError(route string, callstack *string) ([]byte, error) {
	return json.Marshal(serverMessage{
		Route:   route,
		Payload: serverPayload{ServerError: &errorPayload{Callstack: callstack}},
	})
}
