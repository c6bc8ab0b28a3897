package notify

import (
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap"
)

func makeNotification(id int64, read bool) *Notification {
	return &Notification{
		ID:        id,
		Title:     "title",
		Content:   "content",
		Category:  CategoryOrderCreated,
		Read:      read,
		CreatedAt: time.Now(),
	}
}

// checkCounterInvariant verifies the unread counter against a full recount.
func checkCounterInvariant(t *testing.T, r *Reconciler) {
	t.Helper()
	count := 0
	for _, n := range r.Snapshot() {
		if !n.Read {
			count++
		}
	}
	if got := r.UnreadCount(); got != count {
		t.Fatalf("unread counter diverged: counter=%d recount=%d", got, count)
	}
}

func TestReconciler_IngestIsIdempotent(t *testing.T) {
	r := NewReconciler(zap.NewNop())

	if !r.Ingest(makeNotification(1, false)) {
		t.Fatal("first ingest should be fresh")
	}
	if r.Ingest(makeNotification(1, false)) {
		t.Fatal("duplicate ingest should be discarded")
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", r.Len())
	}
	if r.UnreadCount() != 1 {
		t.Fatalf("expected unread 1, got %d", r.UnreadCount())
	}
}

func TestReconciler_IngestKeepsFirstSeen(t *testing.T) {
	r := NewReconciler(zap.NewNop())

	first := makeNotification(5, false)
	first.Title = "first"
	dup := makeNotification(5, true)
	dup.Title = "second"

	r.Ingest(first)
	r.Ingest(dup)

	snap := r.Snapshot()
	if snap[0].Title != "first" {
		t.Fatalf("expected first-seen entry to win, got %q", snap[0].Title)
	}
	checkCounterInvariant(t, r)
}

func TestReconciler_MostRecentFirst(t *testing.T) {
	r := NewReconciler(zap.NewNop())
	r.Ingest(makeNotification(1, false))
	r.Ingest(makeNotification(2, false))
	r.Ingest(makeNotification(3, false))

	snap := r.Snapshot()
	if snap[0].ID != 3 || snap[1].ID != 2 || snap[2].ID != 1 {
		t.Fatalf("expected most-recent-first order, got %d,%d,%d", snap[0].ID, snap[1].ID, snap[2].ID)
	}
}

func TestReconciler_MarkRead(t *testing.T) {
	r := NewReconciler(zap.NewNop())
	r.Ingest(makeNotification(1, false))

	if !r.MarkRead(1) {
		t.Fatal("expected MarkRead to apply")
	}
	if r.UnreadCount() != 0 {
		t.Fatalf("expected unread 0, got %d", r.UnreadCount())
	}
	if r.Snapshot()[0].ReadAt == nil {
		t.Fatal("expected ReadAt to be stamped")
	}

	// Already read and unknown ids are no-ops, not errors.
	if r.MarkRead(1) {
		t.Fatal("second MarkRead should be a no-op")
	}
	if r.MarkRead(99) {
		t.Fatal("unknown id should be a no-op")
	}
	checkCounterInvariant(t, r)
}

func TestReconciler_MarkAllRead(t *testing.T) {
	r := NewReconciler(zap.NewNop())
	r.Ingest(makeNotification(1, false))
	r.Ingest(makeNotification(2, true))
	r.Ingest(makeNotification(3, false))

	r.MarkAllRead()

	if r.UnreadCount() != 0 {
		t.Fatalf("expected unread 0, got %d", r.UnreadCount())
	}
	for _, n := range r.Snapshot() {
		if !n.Read {
			t.Fatalf("entry %d still unread after MarkAllRead", n.ID)
		}
	}

	// Unconditional: calling again on an all-read collection stays at 0.
	r.MarkAllRead()
	if r.UnreadCount() != 0 {
		t.Fatalf("expected unread 0 after repeat, got %d", r.UnreadCount())
	}
}

func TestReconciler_Delete(t *testing.T) {
	r := NewReconciler(zap.NewNop())
	r.Ingest(makeNotification(1, false))
	r.Ingest(makeNotification(2, true))

	// Deleting an unread entry decrements the counter.
	if !r.Delete(1) {
		t.Fatal("expected delete to apply")
	}
	if r.UnreadCount() != 0 {
		t.Fatalf("expected unread 0, got %d", r.UnreadCount())
	}

	// Deleting an already-read entry leaves the counter unchanged.
	if !r.Delete(2) {
		t.Fatal("expected delete to apply")
	}
	if r.UnreadCount() != 0 {
		t.Fatalf("expected unread 0, got %d", r.UnreadCount())
	}

	// Deleting a non-existent id leaves everything unchanged.
	if r.Delete(42) {
		t.Fatal("unknown id should be a no-op")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty collection, got %d", r.Len())
	}
	checkCounterInvariant(t, r)
}

func TestReconciler_Scenario(t *testing.T) {
	r := NewReconciler(zap.NewNop())

	r.Ingest(makeNotification(1, false))
	r.Ingest(makeNotification(2, false))
	r.Ingest(makeNotification(1, false)) // duplicate

	if r.Len() != 2 || r.UnreadCount() != 2 {
		t.Fatalf("after ingest: len=%d unread=%d, want 2/2", r.Len(), r.UnreadCount())
	}

	r.MarkRead(1)
	if r.UnreadCount() != 1 {
		t.Fatalf("after MarkRead: unread=%d, want 1", r.UnreadCount())
	}

	// Deleting the remaining unread entry takes the counter with it.
	r.Delete(2)
	if r.Len() != 1 || r.UnreadCount() != 0 {
		t.Fatalf("after Delete: len=%d unread=%d, want 1/0", r.Len(), r.UnreadCount())
	}
	checkCounterInvariant(t, r)

	r.MarkAllRead()
	if r.UnreadCount() != 0 {
		t.Fatalf("after MarkAllRead: unread=%d, want 0", r.UnreadCount())
	}
}

func TestReconciler_CounterInvariantUnderRandomOps(t *testing.T) {
	r := NewReconciler(zap.NewNop())
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 2000; i++ {
		id := int64(rng.Intn(50))
		switch rng.Intn(4) {
		case 0:
			r.Ingest(makeNotification(id, rng.Intn(2) == 0))
		case 1:
			r.MarkRead(id)
		case 2:
			r.Delete(id)
		case 3:
			if rng.Intn(10) == 0 {
				r.MarkAllRead()
			}
		}
		checkCounterInvariant(t, r)
	}
}
