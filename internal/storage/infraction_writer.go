package storage

import (
	"context"
	"sync"
	"time"

	"sentinel-antispam/internal/metrics"

	"go.uber.org/zap"
)

type InfractionStore interface {
	SetInfraction(ctx context.Context, inf UserInfraction) error
	ResetInfraction(ctx context.Context, guildID, userID, category string) error
}

type infractionOp struct {
	guildID string
	userID  string
	count   int
	at      time.Time
	reset   bool
}

// InfractionWriter applies spam-count changes to user_infractions from a
// single worker, in the order they were queued. Queueing never blocks: a
// full queue drops the write.
type InfractionWriter struct {
	store  InfractionStore
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan infractionOp
	done   chan struct{}
}

func NewInfractionWriter(store InfractionStore, logger *zap.Logger, buffer int) *InfractionWriter {
	if buffer <= 0 {
		buffer = 256
	}
	w := &InfractionWriter{
		store:  store,
		logger: logger,
		queue:  make(chan infractionOp, buffer),
		done:   make(chan struct{}),
	}
	go w.worker()
	return w
}

func (w *InfractionWriter) RecordViolation(guildID, userID string, count int, at time.Time) {
	w.enqueue(infractionOp{guildID: guildID, userID: userID, count: count, at: at})
}

func (w *InfractionWriter) ResetViolations(guildID, userID string) {
	w.enqueue(infractionOp{guildID: guildID, userID: userID, reset: true})
}

func (w *InfractionWriter) enqueue(op infractionOp) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		metrics.InfractionWritesDropped.Inc()
		return
	}
	select {
	case w.queue <- op:
	default:
		metrics.InfractionWritesDropped.Inc()
		w.logger.Warn("infraction queue full, write dropped", zap.String("guild_id", op.guildID), zap.String("user_id", op.userID))
	}
}

// Close stops accepting writes and waits for the queue to drain or ctx to end.
func (w *InfractionWriter) Close(ctx context.Context) {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
	case <-ctx.Done():
	}
}

func (w *InfractionWriter) worker() {
	defer close(w.done)
	for op := range w.queue {
		w.apply(op)
	}
}

func (w *InfractionWriter) apply(op infractionOp) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if op.reset {
		err = w.store.ResetInfraction(ctx, op.guildID, op.userID, CategorySpam)
	} else {
		err = w.store.SetInfraction(ctx, UserInfraction{
			GuildID:    op.guildID,
			UserID:     op.userID,
			Category:   CategorySpam,
			CountTotal: op.count,
			LastAt:     op.at,
		})
	}
	if err != nil {
		w.logger.Warn("infraction write failed", zap.String("guild_id", op.guildID), zap.String("user_id", op.userID), zap.Bool("reset", op.reset), zap.Error(err))
	}
}
