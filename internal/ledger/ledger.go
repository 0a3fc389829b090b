package ledger

import (
	"strings"
	"sync"
	"time"

	"sentinel-antispam/internal/models"
	"sentinel-antispam/internal/utils"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Recorder mirrors ledger changes, e.g. to persist history. It is called
// under the member's record lock, so calls arrive in ledger order and must
// not block.
type Recorder interface {
	RecordViolation(guildID, userID string, count int, at time.Time)
	ResetViolations(guildID, userID string)
}

type record struct {
	mu              sync.Mutex
	count           int
	lastViolationAt time.Time
	// dead is set when the record leaves the map; holders must look it up again.
	dead bool
}

type Record struct {
	GuildID         string
	UserID          string
	Count           int
	LastViolationAt time.Time
}

// Ledger counts violations per guild member. Counts only go up until Reset
// or Sweep clears them.
type Ledger struct {
	clock    Clock
	records  *utils.ShardedMap[*record]
	recorder Recorder
}

func New() *Ledger {
	return &Ledger{clock: realClock{}, records: utils.NewShardedMap[*record]()}
}

func (l *Ledger) WithClock(clock Clock) {
	l.clock = clock
}

func (l *Ledger) WithRecorder(recorder Recorder) {
	l.recorder = recorder
}

func (l *Ledger) Increment(guildID, userID string) int {
	key := models.UserKey(guildID, userID)
	for {
		item := l.records.GetOrCreate(key, func() *record { return &record{} })

		item.mu.Lock()
		if item.dead {
			item.mu.Unlock()
			continue
		}
		now := l.clock.Now()
		item.count++
		item.lastViolationAt = now
		count := item.count
		if l.recorder != nil {
			l.recorder.RecordViolation(guildID, userID, count, now)
		}
		item.mu.Unlock()
		return count
	}
}

func (l *Ledger) CurrentCount(guildID, userID string) int {
	item, ok := l.records.Get(models.UserKey(guildID, userID))
	if !ok {
		return 0
	}
	item.mu.Lock()
	defer item.mu.Unlock()
	return item.count
}

func (l *Ledger) Get(guildID, userID string) (Record, bool) {
	item, ok := l.records.Get(models.UserKey(guildID, userID))
	if !ok {
		return Record{}, false
	}
	item.mu.Lock()
	defer item.mu.Unlock()
	return Record{GuildID: guildID, UserID: userID, Count: item.count, LastViolationAt: item.lastViolationAt}, true
}

func (l *Ledger) Reset(guildID, userID string) {
	removed := l.records.RemoveIf(models.UserKey(guildID, userID), func(item *record) bool {
		item.mu.Lock()
		defer item.mu.Unlock()
		item.dead = true
		if l.recorder != nil {
			l.recorder.ResetViolations(guildID, userID)
		}
		return true
	})
	if !removed && l.recorder != nil {
		l.recorder.ResetViolations(guildID, userID)
	}
}

// Sweep drops records whose last violation is older than inactiveFor and
// returns how many were dropped.
func (l *Ledger) Sweep(inactiveFor time.Duration) int {
	if inactiveFor <= 0 {
		return 0
	}
	cutoff := l.clock.Now().Add(-inactiveFor)
	return l.records.DeleteIf(func(_ string, item *record) bool {
		item.mu.Lock()
		defer item.mu.Unlock()
		if !item.lastViolationAt.Before(cutoff) {
			return false
		}
		item.dead = true
		return true
	})
}

// Top lists the guild's records with the highest counts first.
func (l *Ledger) Top(guildID string, limit int) []Record {
	if limit <= 0 {
		return nil
	}
	prefix := guildID + ":"
	var out []Record
	l.records.Range(func(key string, item *record) bool {
		if !strings.HasPrefix(key, prefix) {
			return true
		}
		item.mu.Lock()
		out = append(out, Record{GuildID: guildID, UserID: key[len(prefix):], Count: item.count, LastViolationAt: item.lastViolationAt})
		item.mu.Unlock()
		return true
	})
	sortRecords(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
