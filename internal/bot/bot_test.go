package bot

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"sentinel-antispam/internal/config"
	"sentinel-antispam/internal/enforcement"
	"sentinel-antispam/internal/ledger"
	"sentinel-antispam/internal/modules/antispam"
	"sentinel-antispam/internal/modules/audit"
	"sentinel-antispam/internal/rules"
	"sentinel-antispam/internal/rulestore"
	"sentinel-antispam/internal/storage"
	"sentinel-antispam/internal/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type fakeREST struct {
	mu       sync.Mutex
	err      error
	sent     []string
	timeouts int
}

func (f *fakeREST) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (f *fakeREST) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, channelID+"|"+content)
	return &discordgo.Message{ID: "m"}, nil
}

func (f *fakeREST) GuildMemberTimeout(string, string, *time.Time, ...discordgo.RequestOption) error {
	f.mu.Lock()
	f.timeouts++
	f.mu.Unlock()
	return f.err
}

func (f *fakeREST) GuildMemberDeleteWithReason(string, string, string, ...discordgo.RequestOption) error {
	return f.err
}

func (f *fakeREST) GuildBanCreateWithReason(string, string, string, int, ...discordgo.RequestOption) error {
	return f.err
}

func (f *fakeREST) ChannelMessageDelete(string, string, ...discordgo.RequestOption) error {
	return f.err
}

func restError(status, code int) error {
	restErr := &discordgo.RESTError{Response: &http.Response{StatusCode: status, Status: http.StatusText(status)}}
	if code != 0 {
		restErr.Message = &discordgo.APIErrorMessage{Code: code, Message: "api error"}
	}
	return restErr
}

func testBreaker() config.BreakerConfig {
	return config.BreakerConfig{MaxRequests: 1, IntervalSeconds: 60, TimeoutSeconds: 60, FailureRatio: 0.6, MinRequests: 3}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{restError(http.StatusForbidden, discordgo.ErrCodeMissingPermissions), enforcement.ErrPermissionDenied},
		{restError(http.StatusForbidden, 0), enforcement.ErrPermissionDenied},
		{restError(http.StatusForbidden, discordgo.ErrCodeCannotSendMessagesToThisUser), enforcement.ErrPermissionDenied},
		{restError(http.StatusNotFound, discordgo.ErrCodeUnknownMember), enforcement.ErrNotFound},
		{restError(http.StatusNotFound, discordgo.ErrCodeUnknownMessage), enforcement.ErrNotFound},
	}
	for _, tc := range cases {
		require.ErrorIs(t, classifyError(tc.err), tc.want)
	}

	serverErr := restError(http.StatusInternalServerError, 0)
	got := classifyError(serverErr)
	require.False(t, errors.Is(got, enforcement.ErrPermissionDenied))
	require.False(t, errors.Is(got, enforcement.ErrNotFound))
	require.Nil(t, classifyError(nil))
}

func TestPlatformMapsPermissionDenied(t *testing.T) {
	client := &fakeREST{err: restError(http.StatusForbidden, discordgo.ErrCodeMissingPermissions)}
	platform := NewPlatform(client, testBreaker(), zap.NewNop())

	err := platform.Timeout(context.Background(), "g1", "u1", time.Now().Add(time.Minute), "spam")
	require.ErrorIs(t, err, enforcement.ErrPermissionDenied)
}

func TestPermissionErrorsDoNotTripBreaker(t *testing.T) {
	client := &fakeREST{err: restError(http.StatusForbidden, discordgo.ErrCodeMissingPermissions)}
	platform := NewPlatform(client, testBreaker(), zap.NewNop())

	for i := 0; i < 10; i++ {
		err := platform.Kick(context.Background(), "g1", "u1", "spam")
		require.ErrorIs(t, err, enforcement.ErrPermissionDenied)
	}
}

func TestServerErrorsOpenBreaker(t *testing.T) {
	client := &fakeREST{err: restError(http.StatusInternalServerError, 0)}
	platform := NewPlatform(client, testBreaker(), zap.NewNop())

	for i := 0; i < 3; i++ {
		err := platform.Timeout(context.Background(), "g1", "u1", time.Now(), "spam")
		require.Error(t, err)
		require.False(t, errors.Is(err, enforcement.ErrCircuitOpen))
	}

	err := platform.Timeout(context.Background(), "g1", "u1", time.Now(), "spam")
	require.ErrorIs(t, err, enforcement.ErrCircuitOpen)
	require.Equal(t, 3, client.timeouts)
}

func TestNotifyUserSendsDM(t *testing.T) {
	client := &fakeREST{}
	platform := NewPlatform(client, testBreaker(), zap.NewNop())

	require.NoError(t, platform.NotifyUser(context.Background(), "u1", "hello"))
	require.Equal(t, []string{"dm-u1|hello"}, client.sent)
}

func TestToMessage(t *testing.T) {
	guild := &discordgo.Guild{
		ID:      "g1",
		OwnerID: "owner",
		Roles: []*discordgo.Role{
			{ID: "g1", Permissions: discordgo.PermissionSendMessages},
			{ID: "mods", Permissions: discordgo.PermissionManageMessages},
			{ID: "members", Permissions: discordgo.PermissionSendMessages},
		},
	}
	created := time.Unix(1_700_000_000, 0)
	msg := &discordgo.Message{
		ID:           "m1",
		GuildID:      "g1",
		ChannelID:    "c1",
		Content:      "hi <@a> <@a> <@b>",
		Timestamp:    created,
		Author:       &discordgo.User{ID: "u1"},
		Member:       &discordgo.Member{Roles: []string{"members"}},
		Mentions:     []*discordgo.User{{ID: "a"}, {ID: "a"}, {ID: "b"}},
		MentionRoles: []string{"r1", "r2"},
	}

	converted := toMessage(msg, guild)
	require.Equal(t, "m1", converted.ID)
	require.Equal(t, "g1", converted.GuildID)
	require.Equal(t, "c1", converted.ChannelID)
	require.Equal(t, "u1", converted.AuthorID)
	require.Equal(t, []string{"members"}, converted.AuthorRoleIDs)
	require.False(t, converted.AuthorCanBypass)
	require.Equal(t, 2, converted.MentionedUserCount)
	require.Equal(t, 2, converted.MentionedRoleCount)
	require.Equal(t, created, converted.CreatedAt)

	msg.Member.Roles = []string{"mods"}
	require.True(t, toMessage(msg, guild).AuthorCanBypass)

	msg.Member.Roles = nil
	msg.Author.ID = "owner"
	require.True(t, toMessage(msg, guild).AuthorCanBypass)

	require.False(t, toMessage(msg, nil).AuthorCanBypass)
}

func TestFormatAuditNotice(t *testing.T) {
	notice := formatAuditNotice(audit.Record{
		Level:          audit.LevelWarn,
		Action:         "mute",
		UserID:         "u1",
		Actor:          audit.ActorSystem,
		ViolationCount: 2,
		Reasons:        []string{"rate: 7 messages in 10s (max 5)"},
		Outcome:        "partial_failure(insufficient permission)",
	})
	require.Equal(t, "[WARN] mute <@u1> violation #2: rate: 7 messages in 10s (max 5) -> partial_failure(insufficient permission)", notice)

	admin := formatAuditNotice(audit.Record{Level: audit.LevelInfo, Action: "antispam_reset", UserID: "u1", Actor: "admin", Details: "previous_count=3"})
	require.Equal(t, "[INFO] antispam_reset <@u1> (by <@admin>) previous_count=3", admin)
}

func TestNotifyAuditIsThrottledPerGuild(t *testing.T) {
	client := &fakeREST{}
	cfg := config.DefaultConfig()
	cfg.DefaultSecurityLogChannel = "logs"
	cfg.AntiSpam.AuditChannelPerMinute = 2
	b := &Bot{
		cfg:      cfg,
		logger:   zap.NewNop(),
		platform: NewPlatform(client, testBreaker(), zap.NewNop()),
		limiters: utils.NewShardedMap[*rate.Limiter](),
	}

	for i := 0; i < 5; i++ {
		b.notifyAudit(context.Background(), audit.Record{GuildID: "g1", Level: audit.LevelWarn, Action: "warn"})
	}
	b.notifyAudit(context.Background(), audit.Record{GuildID: "g2", Level: audit.LevelWarn, Action: "warn"})

	require.Len(t, client.sent, 3)
	require.True(t, strings.HasPrefix(client.sent[0], "logs|[WARN] warn"))
}

func newCommandBot(t *testing.T) (*Bot, *storage.Store, *storage.InfractionWriter) {
	t.Helper()
	store, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate())

	cfg := config.DefaultConfig()
	ruleStore := rulestore.New(store, rulestore.Options{TTL: time.Minute, Defaults: cfg.Rules})
	auditLogger := audit.NewLogger(store, zap.NewNop(), 16)
	t.Cleanup(func() { auditLogger.Close(context.Background()) })
	infractions := storage.NewInfractionWriter(store, zap.NewNop(), 16)
	t.Cleanup(func() { infractions.Close(context.Background()) })
	violations := ledger.New()
	violations.WithRecorder(infractions)

	return &Bot{
		cfg:      cfg,
		logger:   zap.NewNop(),
		store:    store,
		rules:    ruleStore,
		audit:    auditLogger,
		engine:   antispam.NewEngine(ruleStore, violations, nil, zap.NewNop()),
		limiters: utils.NewShardedMap[*rate.Limiter](),
	}, store, infractions
}

func subcommand(name string, options ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:    name,
		Type:    discordgo.ApplicationCommandOptionSubCommand,
		Options: options,
	}
}

func TestEnableCreatesDocumentFromDefaults(t *testing.T) {
	b, _, _ := newCommandBot(t)
	ctx := context.Background()

	_, ok, err := b.rules.Load(ctx, "g1")
	require.NoError(t, err)
	require.False(t, ok)

	reply, err := b.runAntispamCommand(ctx, "g1", "admin", subcommand("enable"))
	require.NoError(t, err)
	require.Equal(t, "Anti-spam enabled.", reply)

	cfg, ok, err := b.rules.Load(ctx, "g1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, cfg.Enabled)
	require.Equal(t, rules.DefaultLadder(), cfg.EscalationLadder)

	_, err = b.runAntispamCommand(ctx, "g1", "admin", subcommand("disable"))
	require.NoError(t, err)
	cfg, _, _ = b.rules.Load(ctx, "g1")
	require.False(t, cfg.Enabled)
}

func TestPresetAndLogsCommands(t *testing.T) {
	b, _, _ := newCommandBot(t)
	ctx := context.Background()

	_, err := b.runAntispamCommand(ctx, "g1", "admin", subcommand("preset", &discordgo.ApplicationCommandInteractionDataOption{
		Name: "value", Type: discordgo.ApplicationCommandOptionString, Value: "high",
	}))
	require.NoError(t, err)
	_, err = b.runAntispamCommand(ctx, "g1", "admin", subcommand("logs", &discordgo.ApplicationCommandInteractionDataOption{
		Name: "channel", Type: discordgo.ApplicationCommandOptionChannel, Value: "c42",
	}))
	require.NoError(t, err)

	cfg, found, err := b.rules.Stored(ctx, "g1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, rules.PresetHigh, cfg.Preset)
	require.Equal(t, 4, cfg.Heuristics.Rate.MaxMessages)
	require.Equal(t, "c42", cfg.LogChannelID)

	status, err := b.runAntispamCommand(ctx, "g1", "admin", subcommand("status"))
	require.NoError(t, err)
	require.Contains(t, status, "Preset: high")
	require.Contains(t, status, "Log channel: <#c42>")
	require.Contains(t, status, "Ladder: warn > mute > kick > ban")
}

func TestResetCommandClearsLedgerAndHistory(t *testing.T) {
	b, store, infractions := newCommandBot(t)
	ctx := context.Background()

	b.engine.Ledger().Increment("g1", "u1")
	b.engine.Ledger().Increment("g1", "u1")

	reply, err := b.runAntispamCommand(ctx, "g1", "admin", subcommand("reset", &discordgo.ApplicationCommandInteractionDataOption{
		Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "u1",
	}))
	require.NoError(t, err)
	require.Contains(t, reply, "was 2")
	require.Zero(t, b.engine.Ledger().CurrentCount("g1", "u1"))

	infractions.Close(ctx)
	inf, err := store.GetInfraction(ctx, "g1", "u1", storage.CategorySpam)
	require.NoError(t, err)
	require.Zero(t, inf.CountTotal)
}

func TestUnknownSubcommand(t *testing.T) {
	b, _, _ := newCommandBot(t)
	_, err := b.runAntispamCommand(context.Background(), "g1", "admin", subcommand("explode"))
	require.ErrorIs(t, err, errUnknownSubcommand)
}
