package stream

import (
	"strings"
	"testing"
)

func TestDecodeClientMessage(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  clientMessage
	}{
		{
			name:  "connect",
			input: `{"route":"chat","payload":"Connect"}`,
			want:  clientMessage{route: "chat", kind: payloadConnect},
		},
		{
			name:  "disconnect",
			input: `{"route":"chat","payload":"Disconnect"}`,
			want:  clientMessage{route: "chat", kind: payloadDisconnect},
		},
		{
			name:  "text",
			input: `{"route":"chat","payload":{"Text":{"text":"hi"}}}`,
			want:  clientMessage{route: "chat", kind: payloadText, text: "hi"},
		},
		{
			name:  "text empty string",
			input: `{"route":"chat","payload":{"Text":{"text":""}}}`,
			want:  clientMessage{route: "chat", kind: payloadText, text: ""},
		},
		{
			name:  "route with slashes",
			input: `{"route":"game/lobby","payload":"Connect"}`,
			want:  clientMessage{route: "game/lobby", kind: payloadConnect},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeClientMessage([]byte(tt.input))
			if err != nil {
				t.Fatalf("decodeClientMessage failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestDecodeClientMessageRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `{"route":`},
		{"missing route", `{"payload":"Connect"}`},
		{"empty route", `{"route":"","payload":"Connect"}`},
		{"numeric route", `{"route":7,"payload":"Connect"}`},
		{"unknown string payload", `{"route":"chat","payload":"Ping"}`},
		{"unknown object payload", `{"route":"chat","payload":{"Binary":{}}}`},
		{"text without body", `{"route":"chat","payload":{"Text":{}}}`},
		{"missing payload", `{"route":"chat"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeClientMessage([]byte(tt.input)); err == nil {
				t.Errorf("expected decode error for %s", tt.input)
			}
		})
	}
}

func TestEncodeText(t *testing.T) {
	frame, err := encodeText("chat", "hello")
	if err != nil {
		t.Fatalf("encodeText failed: %v", err)
	}
	want := `{"route":"chat","payload":{"Text":{"text":"hello"}}}`
	if string(frame) != want {
		t.Errorf("expected %s, got %s", want, frame)
	}
}

func TestEncodeServerError(t *testing.T) {
	cs := "IllegalState: boom\n\tat handler (app.go:10)\n"
	frame, err := encodeServerError("chat", &cs)
	if err != nil {
		t.Fatalf("encodeServerError failed: %v", err)
	}
	if !strings.Contains(string(frame), `"ServerError"`) {
		t.Errorf("expected ServerError tag, got %s", frame)
	}
	if !strings.Contains(string(frame), `"callstack"`) {
		t.Errorf("expected callstack field, got %s", frame)
	}

	frame, err = encodeServerError("chat", nil)
	if err != nil {
		t.Fatalf("encodeServerError failed: %v", err)
	}
	want := `{"route":"chat","payload":{"ServerError":{}}}`
	if string(frame) != want {
		t.Errorf("expected callstack omitted, got %s", frame)
	}
}
