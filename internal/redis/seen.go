package redis

import (
	"context"
	"fmt"
	"time"
)

// SeenTTL is how long seen-notification markers are retained. Long enough to
// cover broker replay after a reconnect and process restarts within a
// session, short enough not to accumulate.
const SeenTTL = 24 * time.Hour

// SeenGuard suppresses duplicate notification side effects (sound, toast
// push to UI clients) across reconnects and process restarts. The in-memory
// reconciler already deduplicates the collection itself; this guard only
// covers the side-effect path, which restarts would otherwise replay.
type SeenGuard struct {
	client *Client
	ttl    time.Duration
}

// NewSeenGuard creates a replay guard on top of an established client.
func NewSeenGuard(client *Client) *SeenGuard {
	return &SeenGuard{client: client, ttl: SeenTTL}
}

func (g *SeenGuard) key(recipient string, id int64) string {
	return fmt.Sprintf("seen:%s:%d", recipient, id)
}

// FirstSight marks the notification as seen and reports whether this was the
// first sighting. Uses SET NX so concurrent sessions for the same recipient
// agree on exactly one first sighting.
func (g *SeenGuard) FirstSight(ctx context.Context, recipient string, id int64) (bool, error) {
	set, err := g.client.rdb.SetNX(ctx, g.key(recipient, id), 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return set, nil
}

// Forget clears the marker, re-arming the side effect for that id.
func (g *SeenGuard) Forget(ctx context.Context, recipient string, id int64) error {
	if err := g.client.rdb.Del(ctx, g.key(recipient, id)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
