// Package channel owns the lifecycle of a single logical subscription to the
// upstream push channel: connect, authenticate, subscribe, disconnect, and
// bounded-retry accounting.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/huyndo/notisync/internal/metrics"
	"github.com/huyndo/notisync/internal/notify"
)

// Phase represents the connection lifecycle state.
//
// Phase transitions:
//
//	Disconnected -> Connecting:   Connect() with attempts < max
//	Connecting   -> Connected:    handshake + subscribe succeeded
//	Connecting   -> Disconnected: handshake failed, attempts++
//	Connected    -> Disconnected: transport error / forced close, attempts++
//	any          -> Failed:       attempts reached max (terminal until Reset)
//	any          -> Disconnected: Disconnect(), attempts reset to 0
type Phase int

const (
	PhaseDisconnected Phase = iota // No subscription, eligible to connect
	PhaseConnecting                // Handshake in flight
	PhaseConnected                 // Subscription active
	PhaseFailed                    // Attempt budget exhausted - refuse connects
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrMaxAttemptsExceeded is reported when the attempt budget is exhausted
// and the manager enters the terminal Failed phase.
var ErrMaxAttemptsExceeded = errors.New("max connect attempts exceeded")

// Conn is one live connection to the push channel. The manager owns it
// exclusively; it is never exposed past this package.
type Conn interface {
	// Frames delivers raw notification payloads. The channel is closed when
	// the connection dies.
	Frames() <-chan []byte
	// Err reports a transport or protocol failure that terminated the
	// connection.
	Err() <-chan error
	Close() error
}

// Transport dials the push channel and completes the protocol handshake and
// private-queue subscription for the given recipient.
type Transport interface {
	Dial(ctx context.Context, identity, credential string) (Conn, error)
}

// Config holds the connection policy for a Manager. Both notification
// integrations in the product share this one policy surface; callers choose
// the constants.
type Config struct {
	// Name identifies this manager in logs (e.g., "merchant", "customer").
	Name string

	// MaxAttempts is the number of failed connects tolerated before the
	// manager refuses further connects. Default 3.
	MaxAttempts int

	// OnPhaseChange observes every phase transition, including ones the
	// manager makes on its own when a live connection drops. Invoked with
	// the manager's lock held: the callback must not call back into the
	// Manager. May be nil.
	OnPhaseChange func(old, next Phase)
}

// DefaultConfig returns the policy observed in production.
func DefaultConfig(name string) Config {
	return Config{Name: name, MaxAttempts: 3}
}

// DeliverFunc receives each successfully normalized notification, in
// delivery order.
type DeliverFunc func(*notify.Notification)

// Manager maintains at most one subscription per recipient identity and
// enforces the bounded-retry connection discipline. It never schedules a
// reconnect on its own: retry is an explicit decision of the caller, which
// keeps the behavior observable and testable.
type Manager struct {
	mu     sync.Mutex
	config Config
	logger *zap.Logger

	transport Transport
	deliver   DeliverFunc

	phase    Phase
	attempts int
	conn     Conn
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewManager creates a disconnected manager with injected transport and
// delivery callback.
func NewManager(cfg Config, transport Transport, deliver DeliverFunc, logger *zap.Logger) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Manager{
		config:    cfg,
		logger:    logger,
		transport: transport,
		deliver:   deliver,
		phase:     PhaseDisconnected,
	}
}

// Connect establishes the subscription for the given recipient.
//
// It silently refuses (no-op, nil error) when already Connecting or
// Connected, or when identity/credential are missing — refusing rather than
// erroring avoids runaway reconnection storms from eager callers. Once the
// attempt budget is exhausted it returns ErrMaxAttemptsExceeded and stays in
// PhaseFailed until Reset or Disconnect.
func (m *Manager) Connect(ctx context.Context, identity, credential string) error {
	m.mu.Lock()
	if m.phase == PhaseFailed {
		m.mu.Unlock()
		return ErrMaxAttemptsExceeded
	}
	if m.phase != PhaseDisconnected {
		m.mu.Unlock()
		return nil
	}
	if identity == "" || credential == "" {
		m.logger.Debug("connect refused: missing identity or credential",
			zap.String("name", m.config.Name),
		)
		m.mu.Unlock()
		return nil
	}

	m.transition(PhaseConnecting)
	dialCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	conn, err := m.transport.Dial(dialCtx, identity, credential)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseConnecting {
		// Disconnect() raced the handshake; release whatever we got.
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}

	if err != nil {
		metrics.RecordConnectAttempt("failed")
		m.recordFailure(err)
		return fmt.Errorf("connect %s: %w", m.config.Name, err)
	}

	metrics.RecordConnectAttempt("ok")
	m.conn = conn
	m.attempts = 0
	m.done = make(chan struct{})
	m.transition(PhaseConnected)

	m.logger.Info("push channel connected",
		zap.String("name", m.config.Name),
		zap.String("identity", identity),
	)

	go m.readLoop(conn, m.done)
	return nil
}

// readLoop pumps frames from the connection through the normalizer to the
// delivery callback until the connection dies.
func (m *Manager) readLoop(conn Conn, done chan struct{}) {
	defer close(done)
	for {
		select {
		case raw, ok := <-conn.Frames():
			if !ok {
				m.onConnLost(conn, errors.New("frame stream closed"))
				return
			}
			n, err := notify.Normalize(raw)
			if err != nil {
				// Malformed frames are dropped, not fatal to the session.
				metrics.RecordEvent(metrics.EventMalformed)
				m.logger.Warn("dropping malformed frame",
					zap.String("name", m.config.Name),
					zap.Error(err),
				)
				continue
			}
			m.deliver(n)
		case err := <-conn.Err():
			m.onConnLost(conn, err)
			return
		}
	}
}

// onConnLost records a mid-session drop. No reconnect is scheduled.
func (m *Manager) onConnLost(conn Conn, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Ignore if Disconnect already tore this connection down.
	if m.conn != conn {
		return
	}
	_ = conn.Close()
	m.conn = nil
	m.recordFailure(err)
}

// recordFailure increments the attempt counter and moves to Disconnected or,
// once the budget is spent, to the terminal Failed phase. Must be called
// with the lock held.
func (m *Manager) recordFailure(err error) {
	m.attempts++
	if m.attempts >= m.config.MaxAttempts {
		m.transition(PhaseFailed)
		m.logger.Warn("push channel failed - attempt budget exhausted",
			zap.String("name", m.config.Name),
			zap.Int("attempts", m.attempts),
			zap.Error(err),
		)
		return
	}
	m.transition(PhaseDisconnected)
	m.logger.Warn("push channel lost",
		zap.String("name", m.config.Name),
		zap.Int("attempts", m.attempts),
		zap.Int("max_attempts", m.config.MaxAttempts),
		zap.Error(err),
	)
}

// Disconnect tears the subscription down from any phase: it cancels a
// pending handshake, closes the connection, resets the attempt counter to 0,
// and leaves the manager Disconnected. Safe to call repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	done := m.done
	m.conn = nil
	m.done = nil
	m.attempts = 0
	m.transition(PhaseDisconnected)
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
}

// Reset clears the terminal Failed phase so a caller with fresh credentials
// can connect again. No-op in any other phase.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseFailed {
		return
	}
	m.attempts = 0
	m.transition(PhaseDisconnected)
}

// GetPhase returns the current connection phase.
func (m *Manager) GetPhase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Attempts returns the current failed-attempt count.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// transition changes phase (must be called with lock held).
func (m *Manager) transition(next Phase) {
	if m.phase == next {
		return
	}
	old := m.phase
	m.phase = next
	m.logger.Debug("connection phase transition",
		zap.String("name", m.config.Name),
		zap.String("from", old.String()),
		zap.String("to", next.String()),
	)
	if m.config.OnPhaseChange != nil {
		m.config.OnPhaseChange(old, next)
	}
}
