package enforcement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentinel-antispam/internal/metrics"
	"sentinel-antispam/internal/models"
	"sentinel-antispam/internal/modules/audit"
	"sentinel-antispam/internal/rules"

	"go.uber.org/zap"
)

const (
	DefaultActionTimeout = 5 * time.Second

	reasonPermission = "insufficient permission"
	reasonTimeout    = "timeout"
	reasonNotFound   = "target not found"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Executor applies resolved actions against the platform. Each call makes a
// single attempt; failures become a PartialFailure outcome.
type Executor struct {
	platform Platform
	sink     audit.Sink
	logger   *zap.Logger
	timeout  time.Duration
	clock    Clock
}

func NewExecutor(platform Platform, sink audit.Sink, logger *zap.Logger, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	return &Executor{
		platform: platform,
		sink:     sink,
		logger:   logger,
		timeout:  timeout,
		clock:    realClock{},
	}
}

func (e *Executor) WithClock(clock Clock) {
	e.clock = clock
}

func (e *Executor) Apply(ctx context.Context, action rules.Action, msg models.Message, cfg rules.RuleConfig, reasons []string, violationCount int) Outcome {
	outcome := Outcome{Action: action, Status: StatusApplied}
	summary := strings.Join(reasons, "; ")

	switch action.Kind {
	case rules.ActionWarn:
		outcome.Notification = e.notify(ctx, msg, action, summary)

	case rules.ActionMute:
		if cfg.NotifyUser {
			outcome.Notification = e.notify(ctx, msg, action, summary)
		}
		until := e.clock.Now().Add(action.MuteDuration)
		err := e.call(ctx, func(ctx context.Context) error {
			return e.platform.Timeout(ctx, msg.GuildID, msg.AuthorID, until, auditReason(summary))
		})
		e.settle(&outcome, err)

	case rules.ActionKick, rules.ActionBan:
		// the DM has to go out while the user still shares the guild
		if cfg.NotifyUser {
			outcome.Notification = e.notify(ctx, msg, action, summary)
		}
		err := e.call(ctx, func(ctx context.Context) error {
			if action.Kind == rules.ActionKick {
				return e.platform.Kick(ctx, msg.GuildID, msg.AuthorID, auditReason(summary))
			}
			return e.platform.Ban(ctx, msg.GuildID, msg.AuthorID, auditReason(summary), rules.ClampDeleteDays(action.DeleteDays))
		})
		e.settle(&outcome, err)

	default:
		outcome = PartialFailure(action, fmt.Sprintf("unknown action %d", action.Kind))
	}

	if cfg.DeleteOffendingMessage && msg.ID != "" {
		outcome.MessageDeletion = e.deleteMessage(ctx, msg)
	}

	metrics.EnforcementActions.WithLabelValues(action.Kind.String(), outcome.Status.String()).Inc()
	e.emit(msg, outcome, reasons, violationCount)
	return outcome
}

func (e *Executor) settle(outcome *Outcome, err error) {
	if err == nil {
		return
	}
	outcome.Status = StatusPartialFailure
	outcome.Reason = failureReason(err)
	e.logger.Warn("enforcement failed",
		zap.String("action", outcome.Action.Kind.String()),
		zap.String("outcome", outcome.Reason),
		zap.Error(err),
	)
}

func (e *Executor) notify(ctx context.Context, msg models.Message, action rules.Action, summary string) Delivery {
	content := notificationText(action, summary)
	err := e.call(ctx, func(ctx context.Context) error {
		return e.platform.NotifyUser(ctx, msg.AuthorID, content)
	})
	return e.delivery("dm", err)
}

func (e *Executor) deleteMessage(ctx context.Context, msg models.Message) Delivery {
	err := e.call(ctx, func(ctx context.Context) error {
		return e.platform.DeleteMessage(ctx, msg.ChannelID, msg.ID)
	})
	return e.delivery("message_delete", err)
}

func (e *Executor) delivery(kind string, err error) Delivery {
	result := DeliveryDelivered
	if err != nil {
		result = DeliveryNotDelivered
		e.logger.Debug("best-effort side effect failed", zap.String("kind", kind), zap.Error(err))
	}
	metrics.BestEffortDeliveries.WithLabelValues(kind, result.String()).Inc()
	return result
}

// call bounds fn by the action timeout even if the platform ignores ctx.
func (e *Executor) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) emit(msg models.Message, outcome Outcome, reasons []string, violationCount int) {
	if e.sink == nil {
		return
	}
	level := audit.LevelWarn
	if outcome.Action.Kind == rules.ActionBan || outcome.Status == StatusPartialFailure {
		level = audit.LevelCrit
	}
	e.sink.Emit(audit.Record{
		GuildID:        msg.GuildID,
		UserID:         msg.AuthorID,
		Actor:          audit.ActorSystem,
		Level:          level,
		Action:         outcome.Action.Kind.String(),
		Reasons:        append([]string(nil), reasons...),
		ViolationCount: violationCount,
		Outcome:        outcome.String(),
		Details:        fmt.Sprintf("%s channel=%s dm=%s delete=%s", outcome.Action, msg.ChannelID, outcome.Notification, outcome.MessageDeletion),
		CreatedAt:      e.clock.Now(),
	})
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return reasonPermission
	case errors.Is(err, context.DeadlineExceeded):
		return reasonTimeout
	case errors.Is(err, ErrCircuitOpen):
		return ErrCircuitOpen.Error()
	case errors.Is(err, ErrNotFound):
		return reasonNotFound
	default:
		return err.Error()
	}
}

// notificationText is sent before the platform call for mute, kick and
// ban, so those read as in progress.
func notificationText(action rules.Action, summary string) string {
	var state string
	switch action.Kind {
	case rules.ActionMute:
		state = fmt.Sprintf("are being timed out for %s", action.MuteDuration)
	case rules.ActionKick:
		state = "are being kicked"
	case rules.ActionBan:
		state = "are being banned"
	default:
		state = "have been warned"
	}
	if summary == "" {
		return fmt.Sprintf("You %s for spam.", state)
	}
	return fmt.Sprintf("You %s for spam: %s", state, summary)
}

// auditReason fits the platform's 512 character audit-log reason limit.
func auditReason(summary string) string {
	reason := "antispam: " + summary
	if runes := []rune(reason); len(runes) > 512 {
		reason = string(runes[:512])
	}
	return reason
}
