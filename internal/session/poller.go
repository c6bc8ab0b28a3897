package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/huyndo/notisync/internal/metrics"
)

// startPollerLocked launches the fallback poll loop. Called with s.mu held
// once the push channel is down, whether from a mid-session drop or from an
// exhausted attempt budget.
func (s *Session) startPollerLocked() {
	if s.pollStop != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.pollStop = cancel
	s.pollDone = make(chan struct{})
	go s.pollLoop(ctx, s.pollDone)

	s.logger.Info("fallback poller started",
		zap.Duration("interval", s.config.PollInterval),
		zap.Duration("budget", s.config.PollTimeout),
	)
}

// stopPollerLocked cancels the poll loop if one is running. Called with
// s.mu held.
func (s *Session) stopPollerLocked() {
	if s.pollStop == nil {
		return
	}
	s.pollStop()
	s.pollStop = nil
	s.pollDone = nil
}

// pollLoop reconciles via fetch-unread on a ticker until the wall-clock
// budget expires, then surfaces the terminal timed-out status. Distinct from
// the bounded-retry discipline of the channel itself: polling never touches
// the connection attempt counter.
func (s *Session) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.config.PollTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			s.mu.Lock()
			if s.status == StatusDegraded {
				s.status = StatusTimedOut
			}
			if s.pollStop != nil {
				s.pollStop()
				s.pollStop = nil
			}
			s.pollDone = nil
			s.mu.Unlock()
			s.logger.Warn("fallback polling budget exhausted")
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Session) pollOnce(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, s.config.PollInterval)
	defer cancel()

	unread, err := s.api.FetchUnread(callCtx, s.config.Credential)
	if err != nil {
		s.logger.Warn("fallback poll failed", zap.Error(err))
		return
	}

	for i := len(unread) - 1; i >= 0; i-- {
		s.deliver(unread[i])
	}
	metrics.SetUnread(s.config.Identity, s.rec.UnreadCount())
}
