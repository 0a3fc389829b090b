package enforcement

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrCircuitOpen      = errors.New("circuit open")
)

// Platform is the chat platform's moderation surface. Implementations return
// ErrPermissionDenied or ErrNotFound (possibly wrapped) for those failures.
type Platform interface {
	NotifyUser(ctx context.Context, userID, content string) error
	Timeout(ctx context.Context, guildID, userID string, until time.Time, reason string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	Ban(ctx context.Context, guildID, userID, reason string, deleteDays int) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}
