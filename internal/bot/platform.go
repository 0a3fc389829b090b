package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sentinel-antispam/internal/config"
	"sentinel-antispam/internal/enforcement"
	"sentinel-antispam/internal/metrics"

	"github.com/bwmarrin/discordgo"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// restClient is the slice of *discordgo.Session the platform adapter needs.
type restClient interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildMemberTimeout(guildID, userID string, until *time.Time, options ...discordgo.RequestOption) error
	GuildMemberDeleteWithReason(guildID, userID, reason string, options ...discordgo.RequestOption) error
	GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

// Platform implements enforcement.Platform on top of the Discord REST API.
// Calls go through a circuit breaker so a failing API is not hammered.
type Platform struct {
	client  restClient
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewPlatform(client restClient, cfg config.BreakerConfig, logger *zap.Logger) *Platform {
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 5
	}
	failureRatio := cfg.FailureRatio
	if failureRatio <= 0 {
		failureRatio = 0.6
	}

	p := &Platform{client: client, logger: logger}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "discord",
		MaxRequests: cfg.MaxRequests,
		Interval:    time.Duration(cfg.IntervalSeconds) * time.Second,
		Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= failureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.PlatformBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("platform circuit breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
		// permission and not-found answers mean the API is healthy
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, enforcement.ErrPermissionDenied) || errors.Is(err, enforcement.ErrNotFound)
		},
	})
	return p
}

func (p *Platform) NotifyUser(ctx context.Context, userID, content string) error {
	return p.do(ctx, func(opts ...discordgo.RequestOption) error {
		channel, err := p.client.UserChannelCreate(userID, opts...)
		if err != nil {
			return err
		}
		_, err = p.client.ChannelMessageSend(channel.ID, content, opts...)
		return err
	})
}

func (p *Platform) Timeout(ctx context.Context, guildID, userID string, until time.Time, reason string) error {
	return p.do(ctx, func(opts ...discordgo.RequestOption) error {
		opts = append(opts, discordgo.WithAuditLogReason(reason))
		return p.client.GuildMemberTimeout(guildID, userID, &until, opts...)
	})
}

func (p *Platform) Kick(ctx context.Context, guildID, userID, reason string) error {
	return p.do(ctx, func(opts ...discordgo.RequestOption) error {
		return p.client.GuildMemberDeleteWithReason(guildID, userID, reason, opts...)
	})
}

func (p *Platform) Ban(ctx context.Context, guildID, userID, reason string, deleteDays int) error {
	return p.do(ctx, func(opts ...discordgo.RequestOption) error {
		return p.client.GuildBanCreateWithReason(guildID, userID, reason, deleteDays, opts...)
	})
}

func (p *Platform) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return p.do(ctx, func(opts ...discordgo.RequestOption) error {
		return p.client.ChannelMessageDelete(channelID, messageID, opts...)
	})
}

// SendLog posts a plain message to a log channel.
func (p *Platform) SendLog(ctx context.Context, channelID, content string) error {
	return p.do(ctx, func(opts ...discordgo.RequestOption) error {
		_, err := p.client.ChannelMessageSend(channelID, content, opts...)
		return err
	})
}

func (p *Platform) do(ctx context.Context, call func(opts ...discordgo.RequestOption) error) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, classifyError(call(discordgo.WithContext(ctx)))
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", enforcement.ErrCircuitOpen, err)
	}
	return err
}

// classifyError maps Discord REST failures onto the enforcement sentinels.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return err
	}

	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess, discordgo.ErrCodeCannotSendMessagesToThisUser:
			return fmt.Errorf("%w: %s", enforcement.ErrPermissionDenied, restErr.Message.Message)
		case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownUser, discordgo.ErrCodeUnknownChannel:
			return fmt.Errorf("%w: %s", enforcement.ErrNotFound, restErr.Message.Message)
		}
	}
	if restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", enforcement.ErrPermissionDenied, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", enforcement.ErrNotFound, err)
		}
	}
	return err
}
