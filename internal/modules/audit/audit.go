package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"sentinel-antispam/internal/metrics"
	"sentinel-antispam/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

const ActorSystem = "system"

const defaultBuffer = 256

// Record is one enforcement or admin event.
type Record struct {
	ID             string
	GuildID        string
	UserID         string
	Actor          string
	Level          string
	Action         string
	Reasons        []string
	ViolationCount int
	Outcome        string
	Details        string
	CreatedAt      time.Time
}

// Sink accepts audit records without blocking the caller.
type Sink interface {
	Emit(record Record)
}

type Store interface {
	AddAuditLog(ctx context.Context, log storage.AuditLog) error
}

// Logger persists records, mirrors them to zap and forwards them to an
// optional notifier. Emit never blocks: a full queue drops the record.
type Logger struct {
	store  Store
	logger *zap.Logger
	notify func(context.Context, Record)

	mu     sync.RWMutex
	closed bool
	queue  chan Record
	done   chan struct{}
}

func NewLogger(store Store, logger *zap.Logger, buffer int) *Logger {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	l := &Logger{
		store:  store,
		logger: logger,
		queue:  make(chan Record, buffer),
		done:   make(chan struct{}),
	}
	go l.worker()
	return l
}

func (l *Logger) SetNotifier(notify func(context.Context, Record)) {
	l.mu.Lock()
	l.notify = notify
	l.mu.Unlock()
}

func (l *Logger) Emit(record Record) {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if record.Level == "" {
		record.Level = LevelInfo
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		metrics.AuditRecordsDropped.Inc()
		return
	}
	select {
	case l.queue <- record:
	default:
		metrics.AuditRecordsDropped.Inc()
		l.logger.Warn("audit queue full, record dropped", zap.String("guild_id", record.GuildID), zap.String("action", record.Action))
	}
}

// Close stops accepting records and waits for the queue to drain or ctx to end.
func (l *Logger) Close(ctx context.Context) {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
	case <-ctx.Done():
	}
}

func (l *Logger) worker() {
	defer close(l.done)
	for record := range l.queue {
		l.write(record)
	}
}

func (l *Logger) write(record Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, toStorage(record)); err != nil {
			l.logger.Warn("audit persist failed", zap.Error(err), zap.String("guild_id", record.GuildID))
		}
	}

	l.mu.RLock()
	notify := l.notify
	l.mu.RUnlock()
	if notify != nil {
		notify(ctx, record)
	}

	l.logger.Info("audit",
		zap.String("id", record.ID),
		zap.String("level", record.Level),
		zap.String("guild_id", record.GuildID),
		zap.String("user_id", record.UserID),
		zap.String("actor", record.Actor),
		zap.String("action", record.Action),
		zap.Strings("reasons", record.Reasons),
		zap.Int("violation_count", record.ViolationCount),
		zap.String("outcome", record.Outcome),
		zap.String("details", record.Details),
	)
}

func toStorage(record Record) storage.AuditLog {
	return storage.AuditLog{
		ID:             record.ID,
		GuildID:        record.GuildID,
		UserID:         record.UserID,
		Actor:          record.Actor,
		Level:          record.Level,
		Action:         record.Action,
		Reasons:        strings.Join(record.Reasons, "; "),
		ViolationCount: record.ViolationCount,
		Outcome:        record.Outcome,
		Details:        record.Details,
		CreatedAt:      record.CreatedAt,
	}
}
