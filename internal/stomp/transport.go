package stomp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// DefaultDestination is the recipient's private notification queue.
	DefaultDestination = "/user/queue/notifications"

	defaultHandshakeTimeout = 10 * time.Second
	defaultHeartbeat        = 25 * time.Second
	writeWait               = 5 * time.Second
)

// ErrHandshake indicates the broker rejected the STOMP handshake.
var ErrHandshake = errors.New("stomp handshake failed")

// Config holds the transport settings for the push channel.
type Config struct {
	// URL is the broker's WebSocket endpoint, e.g. wss://host/ws.
	URL string

	// Destination overrides DefaultDestination when set.
	Destination string

	// Heartbeat is the WS ping interval. Zero means defaultHeartbeat.
	Heartbeat time.Duration

	// HandshakeTimeout bounds dial + STOMP CONNECT. Zero means
	// defaultHandshakeTimeout.
	HandshakeTimeout time.Duration
}

// Transport dials the notification broker over WebSocket and speaks the
// STOMP subset in frame.go. It implements channel.Transport.
type Transport struct {
	config Config
	logger *zap.Logger
}

// NewTransport creates a transport for the given broker endpoint.
func NewTransport(cfg Config, logger *zap.Logger) *Transport {
	if cfg.Destination == "" {
		cfg.Destination = DefaultDestination
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Transport{config: cfg, logger: logger}
}

// Dial opens the WebSocket, completes the STOMP CONNECT handshake with the
// recipient's bearer credential, and subscribes to the private queue. The
// returned connection surfaces MESSAGE bodies on Frames and any terminal
// failure on Err.
func (t *Transport) Dial(ctx context.Context, identity, credential string) (*Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.config.HandshakeTimeout)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, t.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.config.URL, err)
	}

	connect := NewFrame(CmdConnect,
		"accept-version", "1.2",
		"host", "/",
		"Authorization", "Bearer "+credential,
		"heart-beat", fmt.Sprintf("%d,%d", t.config.Heartbeat.Milliseconds(), t.config.Heartbeat.Milliseconds()),
	)
	if err := writeFrame(ws, connect); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("send CONNECT: %w", err)
	}

	reply, err := readHandshakeReply(ws, t.config.HandshakeTimeout)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	if reply.Command != CmdConnected {
		msg := reply.Headers["message"]
		_ = ws.Close()
		return nil, fmt.Errorf("%w: got %s %q", ErrHandshake, reply.Command, msg)
	}

	subID := "sub-" + uuid.NewString()
	subscribe := NewFrame(CmdSubscribe,
		"id", subID,
		"destination", t.config.Destination,
		"ack", "auto",
	)
	if err := writeFrame(ws, subscribe); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("send SUBSCRIBE: %w", err)
	}

	t.logger.Info("stomp subscription established",
		zap.String("identity", identity),
		zap.String("destination", t.config.Destination),
		zap.String("subscription", subID),
	)

	conn := &Conn{
		ws:        ws,
		logger:    t.logger,
		frames:    make(chan []byte, 32),
		errs:      make(chan error, 1),
		closing:   make(chan struct{}),
		heartbeat: t.config.Heartbeat,
	}
	go conn.readLoop()
	go conn.pingLoop()
	return conn, nil
}

// Conn is one live STOMP session. It satisfies channel.Conn.
type Conn struct {
	ws        *websocket.Conn
	logger    *zap.Logger
	frames    chan []byte
	errs      chan error
	heartbeat time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closing   chan struct{}
}

// Frames delivers MESSAGE frame bodies in arrival order.
func (c *Conn) Frames() <-chan []byte { return c.frames }

// Err reports the failure that terminated the session, if any.
func (c *Conn) Err() <-chan error { return c.errs }

// Close sends DISCONNECT on a best-effort basis and tears the socket down.
// Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteMessage(websocket.TextMessage, NewFrame(CmdDisconnect).Marshal())
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.frames)
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closing:
				// Deliberate shutdown, not a transport failure.
			default:
				c.reportErr(fmt.Errorf("read: %w", err))
			}
			return
		}

		frame, err := Parse(raw)
		if err != nil {
			c.logger.Warn("discarding unparseable stomp frame", zap.Error(err))
			continue
		}
		if frame == nil {
			continue // heartbeat
		}

		switch frame.Command {
		case CmdMessage:
			select {
			case c.frames <- frame.Body:
			case <-c.closing:
				return
			}
		case CmdError:
			c.reportErr(fmt.Errorf("broker error: %s", frame.Headers["message"]))
			return
		default:
			c.logger.Debug("ignoring stomp frame", zap.String("command", frame.Command))
		}
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-c.closing:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.reportErr(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

func (c *Conn) reportErr(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

func writeFrame(ws *websocket.Conn, f *Frame) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, f.Marshal())
}

// readHandshakeReply waits for the first non-heartbeat frame from the broker.
func readHandshakeReply(ws *websocket.Conn, timeout time.Duration) (*Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		_ = ws.SetReadDeadline(deadline)
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
		}
		frame, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
		}
		if frame != nil {
			_ = ws.SetReadDeadline(time.Time{})
			return frame, nil
		}
	}
}
