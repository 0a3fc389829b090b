package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentinel-antispam/internal/analytics"
	"sentinel-antispam/internal/modules/audit"
	"sentinel-antispam/internal/rules"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const reportWindow = 7 * 24 * time.Hour

var errUnknownSubcommand = errors.New("unknown subcommand")

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := interaction.ApplicationCommandData()
	if data.Name != commandName {
		return
	}
	if interaction.GuildID == "" {
		b.respond(session, interaction, "This command only works inside a server.", true)
		return
	}
	if len(data.Options) == 0 {
		b.respond(session, interaction, "Missing subcommand.", true)
		return
	}

	actorID := ""
	if interaction.Member != nil && interaction.Member.User != nil {
		actorID = interaction.Member.User.ID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reply, err := b.runAntispamCommand(ctx, interaction.GuildID, actorID, data.Options[0])
	if err != nil {
		b.logger.Warn("antispam command failed", zap.String("guild_id", interaction.GuildID), zap.String("subcommand", data.Options[0].Name), zap.Error(err))
		reply = "Command failed: " + err.Error()
	}
	b.respond(session, interaction, reply, true)
}

func (b *Bot) runAntispamCommand(ctx context.Context, guildID, actorID string, sub *discordgo.ApplicationCommandInteractionDataOption) (string, error) {
	switch sub.Name {
	case "status":
		return b.statusText(ctx, guildID)
	case "enable", "disable":
		enabled := sub.Name == "enable"
		err := b.updateRules(ctx, guildID, actorID, "antispam_"+sub.Name, func(cfg *rules.RuleConfig) {
			cfg.Enabled = enabled
		})
		if err != nil {
			return "", err
		}
		if enabled {
			return "Anti-spam enabled.", nil
		}
		return "Anti-spam disabled.", nil
	case "preset":
		preset := rules.NormalizePreset(optionString(sub.Options, "value"))
		err := b.updateRules(ctx, guildID, actorID, "antispam_preset", func(cfg *rules.RuleConfig) {
			rules.ApplyPreset(cfg, preset)
		})
		if err != nil {
			return "", err
		}
		return "Preset set to " + preset + ".", nil
	case "reset":
		userID := optionUserID(sub.Options, "user")
		if userID == "" {
			return "", errors.New("user is required")
		}
		return b.resetMember(ctx, guildID, actorID, userID)
	case "report":
		if b.analytics == nil {
			return "Reports are unavailable.", nil
		}
		report, err := b.analytics.Report(ctx, guildID, time.Now().Add(-reportWindow))
		if err != nil {
			return "", err
		}
		return formatReport(report), nil
	case "logs":
		channelID := optionChannelID(sub.Options, "channel")
		if channelID == "" {
			return "", errors.New("channel is required")
		}
		err := b.updateRules(ctx, guildID, actorID, "antispam_logs", func(cfg *rules.RuleConfig) {
			cfg.LogChannelID = channelID
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Anti-spam notices will go to <#%s>.", channelID), nil
	default:
		return "", fmt.Errorf("%w: %s", errUnknownSubcommand, sub.Name)
	}
}

// updateRules edits the stored document, starting from the configured
// defaults when the guild has none yet.
func (b *Bot) updateRules(ctx context.Context, guildID, actorID, event string, edit func(*rules.RuleConfig)) error {
	cfg, found, err := b.rules.Stored(ctx, guildID)
	if err != nil {
		return err
	}
	if !found {
		cfg = b.cfg.Rules.Clone()
	}
	edit(&cfg)
	if err := b.rules.Save(ctx, guildID, cfg); err != nil {
		return err
	}

	b.audit.Emit(audit.Record{
		GuildID: guildID,
		UserID:  actorID,
		Actor:   actorID,
		Level:   audit.LevelInfo,
		Action:  event,
		Details: fmt.Sprintf("enabled=%t preset=%s", cfg.Enabled, cfg.Preset),
	})
	return nil
}

func (b *Bot) resetMember(ctx context.Context, guildID, actorID, userID string) (string, error) {
	previous := b.engine.Ledger().CurrentCount(guildID, userID)
	// the ledger forwards the reset to the infraction history in order
	b.engine.ResetUser(guildID, userID)

	b.audit.Emit(audit.Record{
		GuildID: guildID,
		UserID:  userID,
		Actor:   actorID,
		Level:   audit.LevelInfo,
		Action:  "antispam_reset",
		Details: fmt.Sprintf("previous_count=%d", previous),
	})
	return fmt.Sprintf("Violation count for <@%s> reset (was %d).", userID, previous), nil
}

func (b *Bot) statusText(ctx context.Context, guildID string) (string, error) {
	cfg, found, err := b.rules.Stored(ctx, guildID)
	if err != nil {
		return "", err
	}
	source := "stored"
	if !found {
		cfg = b.cfg.Rules.Clone()
		cfg.Enabled = b.cfg.AntiSpam.EnableByDefault
		source = "defaults"
	}

	state := "disabled"
	if cfg.Enabled {
		state = "enabled"
	}
	logChannel := "none"
	if cfg.LogChannelID != "" {
		logChannel = "<#" + cfg.LogChannelID + ">"
	}

	var enabled []string
	for _, kind := range rules.AllHeuristics() {
		if cfg.Heuristics.Enabled(kind) {
			enabled = append(enabled, kind.String())
		}
	}

	lines := []string{
		fmt.Sprintf("Anti-spam: %s (%s)", state, source),
		"Preset: " + cfg.Preset,
		"Heuristics: " + strings.Join(enabled, ", "),
		"Ladder: " + cfg.EscalationLadder.String(),
		fmt.Sprintf("Mute: %s | Ban delete days: %d", cfg.MuteDuration(), rules.ClampDeleteDays(cfg.BanDeleteDays)),
		"Log channel: " + logChannel,
	}

	top := b.engine.Ledger().Top(guildID, 5)
	if len(top) > 0 {
		parts := make([]string, 0, len(top))
		for _, record := range top {
			parts = append(parts, fmt.Sprintf("<@%s> (%d)", record.UserID, record.Count))
		}
		lines = append(lines, "Top offenders: "+strings.Join(parts, ", "))
	}
	return strings.Join(lines, "\n"), nil
}

func formatReport(report analytics.Report) string {
	lines := []string{
		fmt.Sprintf("Total: %d | INFO: %d | WARN: %d | CRIT: %d", report.Total, report.ByLevel[audit.LevelInfo], report.ByLevel[audit.LevelWarn], report.ByLevel[audit.LevelCrit]),
		fmt.Sprintf("warn: %d | mute: %d | kick: %d | ban: %d | partial failures: %d",
			report.ByAction[rules.ActionWarn.String()],
			report.ByAction[rules.ActionMute.String()],
			report.ByAction[rules.ActionKick.String()],
			report.ByAction[rules.ActionBan.String()],
			report.PartialFailure,
		),
	}
	if len(report.TopOffenders) > 0 {
		parts := make([]string, 0, len(report.TopOffenders))
		for _, offender := range report.TopOffenders {
			parts = append(parts, fmt.Sprintf("<@%s> (%d)", offender.UserID, offender.Count))
		}
		lines = append(lines, "Top offenders: "+strings.Join(parts, ", "))
	}
	return strings.Join(lines, "\n")
}

func findOption(options []*discordgo.ApplicationCommandInteractionDataOption, name string) *discordgo.ApplicationCommandInteractionDataOption {
	for _, option := range options {
		if option != nil && option.Name == name {
			return option
		}
	}
	return nil
}

func optionString(options []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if option := findOption(options, name); option != nil && option.Type == discordgo.ApplicationCommandOptionString {
		return option.StringValue()
	}
	return ""
}

func optionUserID(options []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if option := findOption(options, name); option != nil && option.Type == discordgo.ApplicationCommandOptionUser {
		return option.UserValue(nil).ID
	}
	return ""
}

func optionChannelID(options []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if option := findOption(options, name); option != nil && option.Type == discordgo.ApplicationCommandOptionChannel {
		return option.ChannelValue(nil).ID
	}
	return ""
}
