package antispam

import (
	"testing"
	"time"

	"sentinel-antispam/internal/models"
	"sentinel-antispam/internal/utils"
)

func TestTrackerSweepForgetsIdleMembers(t *testing.T) {
	tracker := NewTracker()
	base := time.Unix(1_000, 0)
	tracker.Record("g1", "idle", base)
	tracker.Record("g1", "active", base.Add(50*time.Minute))

	if removed := tracker.Sweep(time.Hour, base.Add(61*time.Minute)); removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if tracker.Len() != 1 {
		t.Fatalf("expected 1 tracked member, got %d", tracker.Len())
	}

	tracker.Record("g1", "idle", base.Add(62*time.Minute))
	if count := tracker.CountWithin("g1", "idle", time.Minute, base.Add(62*time.Minute)); count != 1 {
		t.Fatalf("expected fresh history after sweep, got %d", count)
	}
}

func TestTrackerRecordSkipsRetiredWindow(t *testing.T) {
	tracker := NewTracker()
	key := models.UserKey("g1", "u1")
	base := time.Unix(1_000, 0)

	stale := tracker.windows.GetOrCreate(key, func() *utils.SlidingWindow {
		return utils.NewSlidingWindow(HistoryCapacity)
	})
	stale.RetireIfIdle(base)

	go func() {
		time.Sleep(10 * time.Millisecond)
		tracker.windows.Delete(key)
	}()

	tracker.Record("g1", "u1", base)
	if count := tracker.CountWithin("g1", "u1", time.Minute, base); count != 1 {
		t.Fatalf("expected the record in a live window, got %d", count)
	}
	if stale.Len() != 0 {
		t.Fatalf("retired window received the record")
	}
}
