package antispam

import (
	"context"
	"fmt"
	"time"

	"sentinel-antispam/internal/enforcement"
	"sentinel-antispam/internal/escalation"
	"sentinel-antispam/internal/ledger"
	"sentinel-antispam/internal/metrics"
	"sentinel-antispam/internal/models"
	"sentinel-antispam/internal/rules"
	"sentinel-antispam/internal/utils"

	"go.uber.org/zap"
)

type RuleSource interface {
	Load(ctx context.Context, guildID string) (rules.RuleConfig, bool, error)
}

type Enforcer interface {
	Apply(ctx context.Context, action rules.Action, msg models.Message, cfg rules.RuleConfig, reasons []string, violationCount int) enforcement.Outcome
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Result int

const (
	ResultSkipped Result = iota
	ResultClean
	ResultViolation
	ResultError
)

func (r Result) String() string {
	switch r {
	case ResultClean:
		return "clean"
	case ResultViolation:
		return "violation"
	case ResultError:
		return "error"
	default:
		return "skipped"
	}
}

// Evaluation describes what happened to one message.
type Evaluation struct {
	Result         Result
	Verdicts       []Verdict
	ViolationCount int
	Action         rules.Action
	Outcome        enforcement.Outcome
}

// Engine runs tracker, heuristics, ledger, ladder and enforcement for every
// inbound message. Errors and panics are logged and the message is treated
// as clean.
type Engine struct {
	rules      RuleSource
	tracker    *Tracker
	heuristics *HeuristicEngine
	ledger     *ledger.Ledger
	enforcer   Enforcer
	locks      *utils.KeyedMutex
	logger     *zap.Logger
	clock      Clock
}

func NewEngine(source RuleSource, violations *ledger.Ledger, enforcer Enforcer, logger *zap.Logger) *Engine {
	tracker := NewTracker()
	return &Engine{
		rules:      source,
		tracker:    tracker,
		heuristics: NewHeuristicEngine(tracker),
		ledger:     violations,
		enforcer:   enforcer,
		locks:      utils.NewKeyedMutex(),
		logger:     logger,
		clock:      realClock{},
	}
}

func (e *Engine) WithClock(clock Clock) {
	e.clock = clock
}

func (e *Engine) Tracker() *Tracker {
	return e.tracker
}

func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// OnMessage is the dispatch-loop entry point. It never panics.
func (e *Engine) OnMessage(ctx context.Context, msg models.Message) {
	_ = e.Evaluate(ctx, msg)
}

func (e *Engine) Evaluate(ctx context.Context, msg models.Message) (eval Evaluation) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("antispam evaluation panicked",
				zap.String("guild_id", msg.GuildID),
				zap.String("user_id", msg.AuthorID),
				zap.Any("panic", r),
			)
			eval = Evaluation{Result: ResultError}
		}
		metrics.MessagesEvaluated.WithLabelValues(eval.Result.String()).Inc()
		metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}()

	if msg.GuildID == "" || msg.AuthorID == "" {
		return Evaluation{Result: ResultSkipped}
	}

	cfg, ok, err := e.rules.Load(ctx, msg.GuildID)
	if err != nil {
		e.logger.Warn("antispam config unavailable", zap.String("guild_id", msg.GuildID), zap.Error(err))
		return Evaluation{Result: ResultError}
	}
	if !ok || !cfg.Enabled {
		return Evaluation{Result: ResultSkipped}
	}
	if err := cfg.Validate(); err != nil {
		e.logger.Warn("antispam config invalid", zap.String("guild_id", msg.GuildID), zap.Error(err))
		return Evaluation{Result: ResultError}
	}
	if Exempt(msg, cfg) {
		return Evaluation{Result: ResultSkipped}
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = e.clock.Now()
	}

	verdicts, count, kind, err := e.record(msg, cfg)
	if err != nil {
		e.logger.Error("antispam escalation failed", zap.String("guild_id", msg.GuildID), zap.String("user_id", msg.AuthorID), zap.Error(err))
		return Evaluation{Result: ResultError, Verdicts: verdicts, ViolationCount: count}
	}
	if len(verdicts) == 0 {
		return Evaluation{Result: ResultClean}
	}
	for _, verdict := range verdicts {
		metrics.HeuristicTriggers.WithLabelValues(verdict.Kind.String()).Inc()
	}

	action := cfg.ActionFor(kind)
	// platform I/O happens outside the member lock
	outcome := e.enforcer.Apply(ctx, action, msg, cfg, reasons(verdicts), count)

	e.logger.Info("antispam violation",
		zap.String("guild_id", msg.GuildID),
		zap.String("user_id", msg.AuthorID),
		zap.Int("violation_count", count),
		zap.String("action", action.String()),
		zap.String("outcome", outcome.String()),
	)
	return Evaluation{
		Result:         ResultViolation,
		Verdicts:       verdicts,
		ViolationCount: count,
		Action:         action,
		Outcome:        outcome,
	}
}

// record serializes record, count and increment for one member.
func (e *Engine) record(msg models.Message, cfg rules.RuleConfig) ([]Verdict, int, rules.ActionKind, error) {
	unlock := e.locks.Lock(msg.Key())
	defer unlock()

	e.tracker.Record(msg.GuildID, msg.AuthorID, msg.CreatedAt)
	verdicts := e.heuristics.Evaluate(msg, cfg)
	if len(verdicts) == 0 {
		return nil, 0, 0, nil
	}

	count := e.ledger.Increment(msg.GuildID, msg.AuthorID)
	kind, err := escalation.Resolve(count, cfg.EscalationLadder)
	if err != nil {
		return verdicts, count, 0, fmt.Errorf("resolve action for count %d: %w", count, err)
	}
	return verdicts, count, kind, nil
}

// Sweep drops tracker history idle for longer than idle and ledger records
// without a violation in decayAfter. It returns the ledger records dropped.
func (e *Engine) Sweep(idle, decayAfter time.Duration) int {
	now := e.clock.Now()
	e.tracker.Sweep(idle, now)
	swept := e.ledger.Sweep(decayAfter)
	if swept > 0 {
		metrics.LedgerSwept.Add(float64(swept))
	}
	return swept
}

func (e *Engine) ResetUser(guildID, userID string) {
	e.ledger.Reset(guildID, userID)
}
