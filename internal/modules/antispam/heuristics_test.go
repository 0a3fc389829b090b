package antispam

import (
	"strings"
	"testing"
	"time"

	"sentinel-antispam/internal/models"
	"sentinel-antispam/internal/rules"
)

func TestCapsHeuristic(t *testing.T) {
	params := rules.Default().Heuristics.Caps

	verdict := checkCaps("AAAAAAAAAA", params)
	if !verdict.Triggered {
		t.Fatalf("expected caps to trigger")
	}
	if !strings.Contains(verdict.Reason, "100.0%") {
		t.Fatalf("unexpected reason %q", verdict.Reason)
	}

	if checkCaps("SHORT", params).Triggered {
		t.Fatalf("messages below min length are exempt")
	}
	if checkCaps("Hello There Friends", params).Triggered {
		t.Fatalf("mixed case should pass")
	}
}

func TestDuplicateHeuristic(t *testing.T) {
	params := rules.Default().Heuristics.Duplicate

	if !checkDuplicate("buy buy buy buy buy now", params).Triggered {
		t.Fatalf("expected five repeats to trigger with max 4")
	}
	if checkDuplicate("buy buy buy buy now ok", params).Triggered {
		t.Fatalf("four repeats should pass with max 4")
	}
	if checkDuplicate("a a a a a", params).Triggered {
		t.Fatalf("short messages are exempt")
	}
	if !checkDuplicate("Spam SPAM spam sPaM spam!! spam", rules.DuplicateParams{Enabled: true, MaxDuplicates: 3, MinLength: 10}).Triggered {
		t.Fatalf("comparison should be case-insensitive")
	}
}

func TestMentionsHeuristic(t *testing.T) {
	params := rules.MentionParams{Enabled: true, MaxMentions: 5}

	if checkMentions(models.Message{MentionedUserCount: 3, MentionedRoleCount: 2}, params).Triggered {
		t.Fatalf("five mentions should pass with max 5")
	}
	verdict := checkMentions(models.Message{MentionedUserCount: 4, MentionedRoleCount: 2}, params)
	if !verdict.Triggered || verdict.Reason != "6 mentions (max 5)" {
		t.Fatalf("unexpected verdict %+v", verdict)
	}
}

func TestEmojiHeuristic(t *testing.T) {
	if got := CountEmoji("hi <:pepe:123456> <a:dance:987> 😀🔥 ✨"); got != 5 {
		t.Fatalf("expected 5 emojis, got %d", got)
	}
	params := rules.EmojiParams{Enabled: true, MaxEmojis: 3}
	if !checkEmoji("😀😀😀😀", params).Triggered {
		t.Fatalf("expected emoji flood to trigger")
	}
	if checkEmoji("plain text", params).Triggered {
		t.Fatalf("plain text should pass")
	}
}

func TestLinksHeuristic(t *testing.T) {
	params := rules.LinkParams{
		Enabled:        true,
		AllowedDomains: rules.NewIDSet("tinyurl.com"),
		BlockedDomains: rules.NewIDSet("evil.example"),
	}

	cases := []struct {
		content string
		want    bool
		reason  string
	}{
		{"join discord.gg/abc now", true, "invite link discord.gg"},
		{"https://discord.com/invite/xyz", true, "invite link discord.com"},
		{"https://discord.com/channels/1/2", false, ""},
		{"look https://bit.ly/3abc", true, "link shortener bit.ly"},
		{"https://tinyurl.com/allowed", false, ""},
		{"https://login.evil.example/x", true, "blocked domain login.evil.example"},
		{"get FREE NITRO here", true, `scam phrase "free nitro"`},
		{"see https://go.dev/doc", false, ""},
	}
	for _, tc := range cases {
		verdict := checkLinks(tc.content, params)
		if verdict.Triggered != tc.want {
			t.Fatalf("%q: triggered=%v want %v", tc.content, verdict.Triggered, tc.want)
		}
		if tc.want && verdict.Reason != tc.reason {
			t.Fatalf("%q: reason %q want %q", tc.content, verdict.Reason, tc.reason)
		}
	}
}

func TestRepeatedCharsHeuristic(t *testing.T) {
	params := rules.RepeatedCharsParams{Enabled: true, MinRun: 5}

	if !checkRepeatedChars("nooooo way", params).Triggered {
		t.Fatalf("expected run of 5 to trigger")
	}
	if checkRepeatedChars("noooo way", params).Triggered {
		t.Fatalf("run of 4 should pass")
	}
	if !checkRepeatedChars("ééééé", params).Triggered {
		t.Fatalf("runs are counted in runes")
	}
}

func TestRateHeuristicReason(t *testing.T) {
	tracker := NewTracker()
	engine := NewHeuristicEngine(tracker)
	now := time.Unix(1_700_000_000, 0)
	for i := 0; i < 6; i++ {
		tracker.Record("g1", "u1", now)
	}

	msg := models.Message{GuildID: "g1", AuthorID: "u1", Content: "hello", CreatedAt: now}
	verdicts := engine.Evaluate(msg, rules.Default())
	if len(verdicts) != 1 || verdicts[0].Kind != rules.HeuristicRate {
		t.Fatalf("expected only rate verdict, got %+v", verdicts)
	}
	if verdicts[0].Reason != "6 messages in 10s (max 5)" {
		t.Fatalf("unexpected reason %q", verdicts[0].Reason)
	}
}

func TestVerdictOrderIsFixed(t *testing.T) {
	engine := NewHeuristicEngine(NewTracker())
	msg := models.Message{
		GuildID:            "g1",
		AuthorID:           "u1",
		Content:            "FREE NITRO AAAAAAA DISCORD.GG/X",
		MentionedUserCount: 10,
		CreatedAt:          time.Unix(1_700_000_000, 0),
	}

	verdicts := engine.Evaluate(msg, rules.Default())
	var kinds []rules.HeuristicKind
	for _, verdict := range verdicts {
		kinds = append(kinds, verdict.Kind)
	}
	want := []rules.HeuristicKind{rules.HeuristicMentions, rules.HeuristicCaps, rules.HeuristicLinks, rules.HeuristicRepeatedChars}
	if len(kinds) != len(want) {
		t.Fatalf("got %v want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("got %v want %v", kinds, want)
		}
	}
}

func TestDisabledHeuristicDoesNotRun(t *testing.T) {
	engine := NewHeuristicEngine(NewTracker())
	cfg := rules.Default()
	cfg.Heuristics.Caps.Enabled = false
	cfg.Heuristics.RepeatedChars.Enabled = false

	msg := models.Message{GuildID: "g1", AuthorID: "u1", Content: "AAAAAAAAAA", CreatedAt: time.Unix(1, 0)}
	if verdicts := engine.Evaluate(msg, cfg); len(verdicts) != 0 {
		t.Fatalf("expected no verdicts, got %+v", verdicts)
	}
}

func TestExemptions(t *testing.T) {
	cfg := rules.Default()
	cfg.WhitelistedUsers.Add("trusted")
	cfg.IgnoredRoles.Add("mods")
	cfg.IgnoredChannels.Add("spam-ok")

	base := models.Message{GuildID: "g1", AuthorID: "u1", ChannelID: "c1", Content: "AAAAAAAAAAAA free nitro"}
	cases := map[string]models.Message{}
	whitelisted := base
	whitelisted.AuthorID = "trusted"
	cases["whitelisted user"] = whitelisted
	role := base
	role.AuthorRoleIDs = []string{"members", "mods"}
	cases["ignored role"] = role
	channel := base
	channel.ChannelID = "spam-ok"
	cases["ignored channel"] = channel
	bypass := base
	bypass.AuthorCanBypass = true
	cases["bypass permission"] = bypass

	engine := NewHeuristicEngine(NewTracker())
	for name, msg := range cases {
		if !Exempt(msg, cfg) {
			t.Fatalf("%s: expected exemption", name)
		}
		if verdicts := engine.Evaluate(msg, cfg); len(verdicts) != 0 {
			t.Fatalf("%s: expected zero verdicts, got %+v", name, verdicts)
		}
	}
	if Exempt(base, cfg) {
		t.Fatalf("regular member should not be exempt")
	}
}
