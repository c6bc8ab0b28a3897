package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reconciler holds the authoritative local view of one recipient's
// notifications and the derived unread counter.
//
// The collection is ordered most-recent-first. The counter is maintained
// incrementally but must always equal the count of unread entries; every
// mutation goes through the exported methods to preserve that invariant.
type Reconciler struct {
	mu     sync.RWMutex
	logger *zap.Logger

	entries []*Notification
	byID    map[int64]*Notification
	unread  int
}

// NewReconciler creates an empty reconciler for one recipient session.
func NewReconciler(logger *zap.Logger) *Reconciler {
	return &Reconciler{
		logger: logger,
		byID:   make(map[int64]*Notification),
	}
}

// Ingest merges a canonical notification into the local collection.
// Redundant deliveries of an already-seen id are discarded, keeping the
// first-seen entry. Returns true if the event was fresh (inserted).
func (r *Reconciler) Ingest(n *Notification) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[n.ID]; ok {
		r.logger.Debug("duplicate notification dropped", zap.Int64("id", n.ID))
		return false
	}

	// Own a private copy so callers cannot mutate state behind our back.
	entry := *n
	r.byID[entry.ID] = &entry
	r.entries = append([]*Notification{&entry}, r.entries...)
	if !entry.Read {
		r.unread++
	}

	return true
}

// MarkRead transitions one entry from unread to read and decrements the
// unread counter. Already-read or unknown ids are no-ops.
func (r *Reconciler) MarkRead(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byID[id]
	if !ok || entry.Read {
		return false
	}

	now := time.Now()
	entry.Read = true
	entry.ReadAt = &now
	if r.unread > 0 {
		r.unread--
	}
	return true
}

// MarkAllRead sets every entry to read and the unread counter to exactly 0,
// regardless of prior state.
func (r *Reconciler) MarkAllRead() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, entry := range r.entries {
		if !entry.Read {
			entry.Read = true
			entry.ReadAt = &now
		}
	}
	r.unread = 0
}

// Delete removes the entry with the given id if present, decrementing the
// unread counter when the removed entry was unread. Unknown ids are no-ops.
func (r *Reconciler) Delete(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byID[id]
	if !ok {
		return false
	}

	delete(r.byID, id)
	for i, e := range r.entries {
		if e.ID == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			break
		}
	}
	if !entry.Read && r.unread > 0 {
		r.unread--
	}
	return true
}

// Snapshot returns a copy of the collection, most-recent-first. Entries are
// copied so readers never observe in-place mutation.
func (r *Reconciler) Snapshot() []Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Notification, len(r.entries))
	for i, entry := range r.entries {
		out[i] = *entry
	}
	return out
}

// UnreadCount returns the derived unread counter.
func (r *Reconciler) UnreadCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unread
}

// Len returns the number of entries in the collection.
func (r *Reconciler) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
