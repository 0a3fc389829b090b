package antispam

import (
	"time"

	"sentinel-antispam/internal/models"
	"sentinel-antispam/internal/rules"
	"sentinel-antispam/internal/utils"
)

// HistoryCapacity is how many timestamps are kept per member.
const HistoryCapacity = rules.MaxTrackedMessages

// Tracker holds each member's recent message timestamps. Callers serialize
// Record and CountWithin for one member.
type Tracker struct {
	windows *utils.ShardedMap[*utils.SlidingWindow]
}

func NewTracker() *Tracker {
	return &Tracker{windows: utils.NewShardedMap[*utils.SlidingWindow]()}
}

func (t *Tracker) Record(guildID, userID string, ts time.Time) {
	key := models.UserKey(guildID, userID)
	for {
		window := t.windows.GetOrCreate(key, func() *utils.SlidingWindow {
			return utils.NewSlidingWindow(HistoryCapacity)
		})
		// a concurrent Sweep may have retired the window we got
		if window.Record(ts) {
			return
		}
	}
}

func (t *Tracker) CountWithin(guildID, userID string, window time.Duration, now time.Time) int {
	history, ok := t.windows.Get(models.UserKey(guildID, userID))
	if !ok {
		return 0
	}
	return history.CountWithin(window, now)
}

// Sweep forgets members whose newest message is older than idle.
func (t *Tracker) Sweep(idle time.Duration, now time.Time) int {
	cutoff := now.Add(-idle)
	return t.windows.DeleteIf(func(_ string, history *utils.SlidingWindow) bool {
		return history.RetireIfIdle(cutoff)
	})
}

func (t *Tracker) Len() int {
	return t.windows.Len()
}
