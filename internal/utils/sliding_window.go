package utils

import (
	"sort"
	"sync"
	"time"
)

// SlidingWindow keeps at most capacity timestamps in non-decreasing order.
// Stale entries are not evicted eagerly; CountWithin ignores them.
type SlidingWindow struct {
	mu       sync.Mutex
	capacity int
	hits     []time.Time
	retired  bool
}

func NewSlidingWindow(capacity int) *SlidingWindow {
	if capacity <= 0 {
		capacity = 1
	}
	return &SlidingWindow{capacity: capacity, hits: make([]time.Time, 0, capacity)}
}

// Record adds ts and reports false when the window was retired, in which
// case the caller must look up a fresh one.
func (w *SlidingWindow) Record(ts time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.retired {
		return false
	}

	idx := len(w.hits)
	if idx > 0 && ts.Before(w.hits[idx-1]) {
		idx = sort.Search(len(w.hits), func(i int) bool { return w.hits[i].After(ts) })
	}
	w.hits = append(w.hits, time.Time{})
	copy(w.hits[idx+1:], w.hits[idx:])
	w.hits[idx] = ts

	if over := len(w.hits) - w.capacity; over > 0 {
		w.hits = append(w.hits[:0], w.hits[over:]...)
	}
	return true
}

// RetireIfIdle retires the window when its newest entry is older than
// cutoff. A retired window accepts no more entries.
func (w *SlidingWindow) RetireIfIdle(cutoff time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n := len(w.hits); n > 0 && !w.hits[n-1].Before(cutoff) {
		return false
	}
	w.retired = true
	return true
}

// CountWithin counts entries t with now-t <= window. It does not mutate.
func (w *SlidingWindow) CountWithin(window time.Duration, now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-window)
	idx := sort.Search(len(w.hits), func(i int) bool { return !w.hits[i].Before(cutoff) })
	return len(w.hits) - idx
}

func (w *SlidingWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.hits)
}

func (w *SlidingWindow) Last() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.hits) == 0 {
		return time.Time{}, false
	}
	return w.hits[len(w.hits)-1], true
}
