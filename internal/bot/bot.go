package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sentinel-antispam/internal/analytics"
	"sentinel-antispam/internal/config"
	"sentinel-antispam/internal/enforcement"
	"sentinel-antispam/internal/ledger"
	"sentinel-antispam/internal/metrics"
	"sentinel-antispam/internal/models"
	"sentinel-antispam/internal/modules/antispam"
	"sentinel-antispam/internal/modules/audit"
	"sentinel-antispam/internal/rulestore"
	"sentinel-antispam/internal/storage"
	"sentinel-antispam/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// trackerIdle bounds how long message history of a quiet member is kept.
const trackerIdle = time.Hour

const bypassPermissions = discordgo.PermissionAdministrator | discordgo.PermissionManageMessages

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.Store
	rules     *rulestore.Store
	audit     *audit.Logger
	analytics *analytics.Service
	session   *discordgo.Session
	platform  *Platform
	engine    *antispam.Engine
	limiters  *utils.ShardedMap[*rate.Limiter]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, ruleStore *rulestore.Store, violations *ledger.Ledger, auditLogger *audit.Logger, analyticsService *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	platform := NewPlatform(session, cfg.Breaker, logger)
	executor := enforcement.NewExecutor(platform, auditLogger, logger, cfg.AntiSpam.ActionTimeout())

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		rules:     ruleStore,
		audit:     auditLogger,
		analytics: analyticsService,
		session:   session,
		platform:  platform,
		engine:    antispam.NewEngine(ruleStore, violations, executor, logger),
		limiters:  utils.NewShardedMap[*rate.Limiter](),
	}
	auditLogger.SetNotifier(b.notifyAudit)

	return b, nil
}

func (b *Bot) Engine() *antispam.Engine {
	return b.engine
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runMaintenance(ctx)
	}()

	return nil
}

func (b *Bot) Close(ctx context.Context) {
	if b.cancel != nil {
		b.cancel()
	}
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, event *discordgo.MessageCreate) {
	if event.Author == nil || event.Author.Bot || event.GuildID == "" {
		return
	}
	var guild *discordgo.Guild
	if session.State != nil {
		guild, _ = session.State.Guild(event.GuildID)
	}
	b.engine.OnMessage(context.Background(), toMessage(event.Message, guild))
}

func toMessage(msg *discordgo.Message, guild *discordgo.Guild) models.Message {
	var roles []string
	if msg.Member != nil {
		roles = append(roles, msg.Member.Roles...)
	}

	mentioned := make(map[string]struct{}, len(msg.Mentions))
	for _, user := range msg.Mentions {
		if user != nil {
			mentioned[user.ID] = struct{}{}
		}
	}

	return models.Message{
		ID:                 msg.ID,
		GuildID:            msg.GuildID,
		ChannelID:          msg.ChannelID,
		AuthorID:           msg.Author.ID,
		AuthorRoleIDs:      roles,
		AuthorCanBypass:    canBypass(guild, msg.Author.ID, roles),
		Content:            msg.Content,
		MentionedUserCount: len(mentioned),
		MentionedRoleCount: len(msg.MentionRoles),
		CreatedAt:          msg.Timestamp,
	}
}

// canBypass is true for the owner and for members whose roles grant
// Administrator or Manage Messages.
func canBypass(guild *discordgo.Guild, userID string, roles []string) bool {
	if guild == nil {
		return false
	}
	if guild.OwnerID != "" && guild.OwnerID == userID {
		return true
	}
	return memberPermissions(guild, roles)&bypassPermissions != 0
}

func memberPermissions(guild *discordgo.Guild, roles []string) int64 {
	perms := int64(0)
	roleMap := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, role := range guild.Roles {
		if role == nil {
			continue
		}
		roleMap[role.ID] = role
		if role.ID == guild.ID {
			perms |= role.Permissions
		}
	}
	for _, roleID := range roles {
		if role := roleMap[roleID]; role != nil {
			perms |= role.Permissions
		}
	}
	return perms
}

func (b *Bot) runMaintenance(ctx context.Context) {
	interval := b.cfg.AntiSpam.DecayInterval()
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.maintain(ctx)
		}
	}
}

func (b *Bot) maintain(ctx context.Context) {
	swept := b.engine.Sweep(trackerIdle, b.cfg.AntiSpam.DecayAfter())
	if swept > 0 {
		b.logger.Info("violation counts decayed", zap.Int("records", swept))
	}

	if b.store == nil {
		return
	}
	removed, err := b.store.CleanupAuditLogs(ctx, b.cfg.RetentionDays)
	if err != nil {
		b.logger.Warn("audit retention failed", zap.Error(err))
		return
	}
	if removed > 0 {
		b.logger.Info("audit logs pruned", zap.Int64("rows", removed))
	}
}

// notifyAudit mirrors audit records to the guild's log channel, throttled
// per guild. Failures are only counted.
func (b *Bot) notifyAudit(ctx context.Context, record audit.Record) {
	channelID := b.logChannel(ctx, record.GuildID)
	if channelID == "" {
		return
	}

	limiter := b.limiters.GetOrCreate(record.GuildID, func() *rate.Limiter {
		return newLogLimiter(b.cfg.AntiSpam.AuditChannelPerMinute)
	})
	if !limiter.Allow() {
		metrics.BestEffortDeliveries.WithLabelValues("log_channel", "throttled").Inc()
		return
	}

	result := "delivered"
	if err := b.platform.SendLog(ctx, channelID, formatAuditNotice(record)); err != nil {
		result = "not_delivered"
		b.logger.Debug("log channel notice failed", zap.String("guild_id", record.GuildID), zap.Error(err))
	}
	metrics.BestEffortDeliveries.WithLabelValues("log_channel", result).Inc()
}

func (b *Bot) logChannel(ctx context.Context, guildID string) string {
	if b.rules != nil {
		if cfg, ok, err := b.rules.Load(ctx, guildID); err == nil && ok && cfg.LogChannelID != "" {
			return cfg.LogChannelID
		}
	}
	return b.cfg.DefaultSecurityLogChannel
}

func newLogLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

func formatAuditNotice(record audit.Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", record.Level, record.Action)
	if record.UserID != "" {
		fmt.Fprintf(&sb, " <@%s>", record.UserID)
	}
	if record.ViolationCount > 0 {
		fmt.Fprintf(&sb, " violation #%d", record.ViolationCount)
	}
	if len(record.Reasons) > 0 {
		sb.WriteString(": ")
		sb.WriteString(strings.Join(record.Reasons, "; "))
	}
	if record.Outcome != "" {
		fmt.Fprintf(&sb, " -> %s", record.Outcome)
	}
	if record.Actor != "" && record.Actor != audit.ActorSystem {
		fmt.Fprintf(&sb, " (by <@%s>)", record.Actor)
	}
	if record.Details != "" && record.ViolationCount == 0 {
		fmt.Fprintf(&sb, " %s", record.Details)
	}
	return sb.String()
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
}
