package stomp

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrame_MarshalParseRoundTrip(t *testing.T) {
	f := NewFrame(CmdSubscribe,
		"id", "sub-1",
		"destination", "/user/queue/notifications",
		"ack", "auto",
	)

	parsed, err := Parse(f.Marshal())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Command != CmdSubscribe {
		t.Fatalf("expected SUBSCRIBE, got %s", parsed.Command)
	}
	if parsed.Headers["destination"] != "/user/queue/notifications" {
		t.Fatalf("destination header lost: %v", parsed.Headers)
	}
}

func TestFrame_ParseMessageWithBody(t *testing.T) {
	raw := []byte("MESSAGE\ndestination:/user/queue/notifications\nsubscription:sub-1\n\n{\"id\":1}\x00")

	f, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Command != CmdMessage {
		t.Fatalf("expected MESSAGE, got %s", f.Command)
	}
	if !bytes.Equal(f.Body, []byte(`{"id":1}`)) {
		t.Fatalf("unexpected body: %q", f.Body)
	}
}

func TestFrame_ParseHeartbeat(t *testing.T) {
	f, err := Parse([]byte("\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f != nil {
		t.Fatalf("heartbeat should parse to nil frame, got %+v", f)
	}
}

func TestFrame_ParseBadHeader(t *testing.T) {
	if _, err := Parse([]byte("MESSAGE\nno-colon-here\n\nbody\x00")); !errors.Is(err, ErrBadFrame) {
		t.Fatalf("expected ErrBadFrame, got %v", err)
	}
}

func TestFrame_HeaderEscaping(t *testing.T) {
	f := NewFrame(CmdError, "message", "bad:thing\nhappened")

	parsed, err := Parse(f.Marshal())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Headers["message"] != "bad:thing\nhappened" {
		t.Fatalf("escaping round-trip failed: %q", parsed.Headers["message"])
	}
}

func TestFrame_RepeatedHeaderFirstWins(t *testing.T) {
	raw := []byte("CONNECTED\nversion:1.2\nversion:1.0\n\n\x00")

	f, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Headers["version"] != "1.2" {
		t.Fatalf("expected first header to win, got %q", f.Headers["version"])
	}
}
