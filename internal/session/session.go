// Package session ties one recipient's connection manager, reconciler, and
// upstream REST client into a single lifecycle: backfill, subscribe, apply
// optimistic commands, fall back to polling when the push channel dies.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/huyndo/notisync/internal/channel"
	"github.com/huyndo/notisync/internal/metrics"
	"github.com/huyndo/notisync/internal/notify"
)

// Upstream is the REST command surface the session persists mutations to.
// *restapi.Client satisfies it.
type Upstream interface {
	FetchAll(ctx context.Context, credential string) ([]*notify.Notification, error)
	FetchUnread(ctx context.Context, credential string) ([]*notify.Notification, error)
	MarkRead(ctx context.Context, credential string, id int64) error
	MarkAllRead(ctx context.Context, credential string) error
	Delete(ctx context.Context, credential string, id int64) error
}

// ReplayGuard suppresses repeated side effects for already-seen ids.
// *redis.SeenGuard satisfies it; nil means every fresh ingest notifies.
type ReplayGuard interface {
	FirstSight(ctx context.Context, recipient string, id int64) (bool, error)
}

// NotifyFunc is the UI side-effect hook (sound, toast), fired once per
// fresh, unread, not-previously-seen push event.
type NotifyFunc func(*notify.Notification)

// Config holds per-session policy.
type Config struct {
	// Identity is the recipient this session is scoped to.
	Identity string

	// Credential is the bearer token for both the push channel and the
	// upstream REST surface.
	Credential string

	// MaxConnectAttempts bounds push-channel connects. Default 3.
	MaxConnectAttempts int

	// PollInterval drives the fallback poller once the channel has failed.
	// Default 30s.
	PollInterval time.Duration

	// PollTimeout is the wall-clock budget for fallback polling; when it
	// expires the poller stops and the session reports StatusTimedOut.
	// Default 5 minutes.
	PollTimeout time.Duration
}

// Status is the session-level connection status surfaced to UI clients.
type Status string

const (
	StatusLive     Status = "live"      // Push channel connected
	StatusDegraded Status = "degraded"  // Channel down, fallback polling
	StatusTimedOut Status = "timed_out" // Fallback budget spent; manual retry needed
	StatusClosed   Status = "closed"
)

// Session is the per-recipient synchronizer instance.
type Session struct {
	config  Config
	logger  *zap.Logger
	manager *channel.Manager
	rec     *notify.Reconciler
	api     Upstream
	guard   ReplayGuard
	onNotif NotifyFunc

	mu       sync.Mutex
	status   Status
	pollStop context.CancelFunc
	pollDone chan struct{}
	closed   bool
}

// New constructs a session. transport and api are injected; guard and
// onNotify may be nil.
func New(cfg Config, transport channel.Transport, api Upstream, guard ReplayGuard, onNotify NotifyFunc, logger *zap.Logger) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Minute
	}

	s := &Session{
		config:  cfg,
		logger:  logger.With(zap.String("identity", cfg.Identity)),
		rec:     notify.NewReconciler(logger),
		api:     api,
		guard:   guard,
		onNotif: onNotify,
		status:  StatusDegraded,
	}
	s.manager = channel.NewManager(
		channel.Config{
			Name:          cfg.Identity,
			MaxAttempts:   cfg.MaxConnectAttempts,
			OnPhaseChange: s.onPhaseChange,
		},
		transport,
		s.deliver,
		logger,
	)
	return s
}

// Start backfills historical notifications from the upstream fetch-all call,
// then connects the push channel. Only a backfill failure is an error; a
// failed connect leaves the session degraded (backfilled but not live) with
// the failure reflected in Status and Phase, and the caller decides whether
// to retry.
func (s *Session) Start(ctx context.Context) error {
	history, err := s.api.FetchAll(ctx, s.config.Credential)
	if err != nil {
		return err
	}
	// fetch-all returns newest first; ingest oldest first so head insertion
	// reproduces that order locally.
	for i := len(history) - 1; i >= 0; i-- {
		s.rec.Ingest(history[i])
	}
	metrics.SetUnread(s.config.Identity, s.rec.UnreadCount())

	s.logger.Info("session backfilled",
		zap.Int("entries", s.rec.Len()),
		zap.Int("unread", s.rec.UnreadCount()),
	)

	if err := s.Connect(ctx); err != nil {
		s.logger.Warn("push channel connect failed at start", zap.Error(err))
	}
	return nil
}

// Connect attempts (or re-attempts) the push channel. Refused connects are
// not errors; exhausted attempts surface channel.ErrMaxAttemptsExceeded.
// Status and the phase gauge follow the channel through onPhaseChange.
func (s *Session) Connect(ctx context.Context) error {
	return s.manager.Connect(ctx, s.config.Identity, s.config.Credential)
}

// onPhaseChange keeps the session status and the phase gauge in step with
// the channel, including transitions the manager makes on its own when a
// live connection drops. Runs under the manager's lock, so the phase comes
// from the arguments, never from a call back into the manager.
func (s *Session) onPhaseChange(old, next channel.Phase) {
	metrics.SetConnectionPhase(s.config.Identity, next.String())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	switch {
	case next == channel.PhaseConnected:
		s.status = StatusLive
		s.stopPollerLocked()
	case next == channel.PhaseFailed:
		s.status = StatusDegraded
		s.startPollerLocked()
	case next == channel.PhaseDisconnected && old == channel.PhaseConnected:
		// Mid-session drop with budget left: the channel will not
		// reconnect itself, so fall back to polling right away.
		s.status = StatusDegraded
		s.startPollerLocked()
	}
}

// deliver is the channel manager's delivery callback.
func (s *Session) deliver(n *notify.Notification) {
	fresh := s.rec.Ingest(n)
	metrics.SetUnread(s.config.Identity, s.rec.UnreadCount())
	if !fresh {
		metrics.RecordEvent(metrics.EventDuplicate)
		return
	}
	metrics.RecordEvent(metrics.EventIngested)

	if n.Read || s.onNotif == nil {
		return
	}

	if s.guard != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		first, err := s.guard.FirstSight(ctx, s.config.Identity, n.ID)
		cancel()
		if err != nil {
			// Guard trouble must not mute notifications entirely.
			s.logger.Warn("replay guard unavailable, notifying anyway", zap.Error(err))
		} else if !first {
			s.logger.Debug("suppressing replayed notification side effect", zap.Int64("id", n.ID))
			return
		}
	}

	s.onNotif(n)
}

// MarkRead applies the optimistic local transition, then persists it
// upstream. An upstream failure is logged, not rolled back.
func (s *Session) MarkRead(ctx context.Context, id int64) {
	if !s.rec.MarkRead(id) {
		return
	}
	metrics.SetUnread(s.config.Identity, s.rec.UnreadCount())

	if err := s.api.MarkRead(ctx, s.config.Credential, id); err != nil {
		metrics.RecordCommandFailure("mark_read")
		s.logger.Warn("upstream mark-read failed, local state kept",
			zap.Int64("id", id),
			zap.Error(err),
		)
	}
}

// MarkAllRead applies the optimistic local transition, then persists it.
func (s *Session) MarkAllRead(ctx context.Context) {
	s.rec.MarkAllRead()
	metrics.SetUnread(s.config.Identity, 0)

	if err := s.api.MarkAllRead(ctx, s.config.Credential); err != nil {
		metrics.RecordCommandFailure("mark_all_read")
		s.logger.Warn("upstream mark-all-read failed, local state kept", zap.Error(err))
	}
}

// Delete applies the optimistic local removal, then persists it.
func (s *Session) Delete(ctx context.Context, id int64) {
	if !s.rec.Delete(id) {
		return
	}
	metrics.SetUnread(s.config.Identity, s.rec.UnreadCount())

	if err := s.api.Delete(ctx, s.config.Credential, id); err != nil {
		metrics.RecordCommandFailure("delete")
		s.logger.Warn("upstream delete failed, local state kept",
			zap.Int64("id", id),
			zap.Error(err),
		)
	}
}

// Snapshot returns the current local view, most-recent-first.
func (s *Session) Snapshot() []notify.Notification {
	return s.rec.Snapshot()
}

// UnreadCount returns the derived unread counter.
func (s *Session) UnreadCount() int {
	return s.rec.UnreadCount()
}

// Len returns the number of entries in the local collection.
func (s *Session) Len() int {
	return s.rec.Len()
}

// Status reports the session-level connection status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Phase exposes the underlying connection phase for the status endpoint.
func (s *Session) Phase() (channel.Phase, int) {
	return s.manager.GetPhase(), s.manager.Attempts()
}

// Retry clears a Failed channel and connects again. This is the explicit
// external action that re-arms the attempt budget.
func (s *Session) Retry(ctx context.Context) error {
	s.manager.Reset()
	return s.Connect(ctx)
}

// Close disconnects the channel and stops the fallback poller. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.status = StatusClosed
	s.stopPollerLocked()
	s.mu.Unlock()

	s.manager.Disconnect()
	metrics.SetConnectionPhase(s.config.Identity, s.manager.GetPhase().String())
	s.logger.Info("session closed")
}
