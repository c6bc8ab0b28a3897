package stomp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeBroker is a minimal STOMP-speaking WebSocket server.
type fakeBroker struct {
	srv *httptest.Server

	rejectConnect bool
	messages      [][]byte // bodies pushed after subscribe

	gotConnect   chan *Frame
	gotSubscribe chan *Frame
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	b := &fakeBroker{
		gotConnect:   make(chan *Frame, 1),
		gotSubscribe: make(chan *Frame, 1),
	}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		// CONNECT
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		frame, err := Parse(raw)
		if err != nil || frame.Command != CmdConnect {
			return
		}
		b.gotConnect <- frame

		if b.rejectConnect {
			_ = ws.WriteMessage(websocket.TextMessage, NewFrame(CmdError, "message", "bad credentials").Marshal())
			return
		}
		_ = ws.WriteMessage(websocket.TextMessage, NewFrame(CmdConnected, "version", "1.2").Marshal())

		// SUBSCRIBE
		_, raw, err = ws.ReadMessage()
		if err != nil {
			return
		}
		frame, err = Parse(raw)
		if err != nil || frame.Command != CmdSubscribe {
			return
		}
		b.gotSubscribe <- frame

		for _, body := range b.messages {
			msg := NewFrame(CmdMessage,
				"destination", frame.Headers["destination"],
				"subscription", frame.Headers["id"],
			)
			msg.Body = body
			_ = ws.WriteMessage(websocket.TextMessage, msg.Marshal())
		}

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBroker) wsURL() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func TestTransport_HandshakeAndSubscribe(t *testing.T) {
	broker := newFakeBroker(t)
	tr := NewTransport(Config{URL: broker.wsURL()}, zap.NewNop())

	conn, err := tr.Dial(context.Background(), "merchant-1", "tok-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()

	connect := <-broker.gotConnect
	if connect.Headers["Authorization"] != "Bearer tok-123" {
		t.Fatalf("credential not attached at handshake: %v", connect.Headers)
	}
	if connect.Headers["accept-version"] != "1.2" {
		t.Fatalf("unexpected accept-version: %v", connect.Headers)
	}

	sub := <-broker.gotSubscribe
	if sub.Headers["destination"] != DefaultDestination {
		t.Fatalf("expected private queue subscription, got %v", sub.Headers)
	}
}

func TestTransport_DeliversMessageBodies(t *testing.T) {
	broker := newFakeBroker(t)
	broker.messages = [][]byte{
		[]byte(`{"id":1}`),
		[]byte(`{"id":2}`),
	}
	tr := NewTransport(Config{URL: broker.wsURL()}, zap.NewNop())

	conn, err := tr.Dial(context.Background(), "merchant-1", "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()

	for i, want := range []string{`{"id":1}`, `{"id":2}`} {
		select {
		case got := <-conn.Frames():
			if string(got) != want {
				t.Fatalf("frame %d: got %q want %q", i, got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func TestTransport_HandshakeRejected(t *testing.T) {
	broker := newFakeBroker(t)
	broker.rejectConnect = true
	tr := NewTransport(Config{URL: broker.wsURL()}, zap.NewNop())

	if _, err := tr.Dial(context.Background(), "merchant-1", "bad-token"); err == nil {
		t.Fatal("expected handshake error")
	}
}

func TestTransport_DialUnreachable(t *testing.T) {
	tr := NewTransport(Config{URL: "ws://127.0.0.1:1", HandshakeTimeout: 500 * time.Millisecond}, zap.NewNop())

	if _, err := tr.Dial(context.Background(), "merchant-1", "tok"); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestTransport_CloseIsIdempotent(t *testing.T) {
	broker := newFakeBroker(t)
	tr := NewTransport(Config{URL: broker.wsURL()}, zap.NewNop())

	conn, err := tr.Dial(context.Background(), "merchant-1", "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}
