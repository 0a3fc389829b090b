package rules

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.EscalationLadder.String() != "warn > mute > kick > ban" {
		t.Fatalf("unexpected default ladder: %s", cfg.EscalationLadder)
	}
}

func TestValidateRejectsEmptyLadder(t *testing.T) {
	cfg := Default()
	cfg.EscalationLadder = nil
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidateMuteDuration(t *testing.T) {
	cfg := Default()
	cfg.MuteDurationSeconds = 0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected zero mute duration to be rejected, got %v", err)
	}

	cfg.EscalationLadder = Ladder{ActionWarn, ActionKick}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("zero mute duration without a mute rung should pass, got %v", err)
	}

	cfg = Default()
	cfg.MuteDurationSeconds = int(MaxMuteDuration/time.Second) + 1
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected mute beyond 28 days to be rejected, got %v", err)
	}

	cfg.MuteDurationSeconds = int(MaxMuteDuration / time.Second)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("28 day mute should pass, got %v", err)
	}
}

func TestUnmarshalOverlaysDefaults(t *testing.T) {
	doc := []byte(`
enabled: true
heuristics:
  rate:
    enabled: true
    max_messages: 3
    window_seconds: 4
escalation_ladder: [warn, timeout, ban]
ignored_roles: ["r1", "r2"]
mute_duration_seconds: 60
`)
	cfg, err := Unmarshal(doc)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.Heuristics.Rate.MaxMessages != 3 || cfg.Heuristics.Rate.Window() != 4*time.Second {
		t.Fatalf("rate params not applied: %+v", cfg.Heuristics.Rate)
	}
	if !cfg.Heuristics.Caps.Enabled || cfg.Heuristics.Caps.MaxCapsPercentage != 70 {
		t.Fatalf("caps defaults lost: %+v", cfg.Heuristics.Caps)
	}
	if len(cfg.EscalationLadder) != 3 || cfg.EscalationLadder[1] != ActionMute {
		t.Fatalf("unexpected ladder: %v", cfg.EscalationLadder)
	}
	if !cfg.HasIgnoredRole([]string{"x", "r2"}) {
		t.Fatalf("expected ignored role r2")
	}
	if got := cfg.ActionFor(ActionMute); got.MuteDuration != time.Minute {
		t.Fatalf("expected 1m mute, got %s", got)
	}
}

func TestUnmarshalRejectsUnknownAction(t *testing.T) {
	_, err := Unmarshal([]byte("escalation_ladder: [warn, explode]"))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestMarshalKeepsLadderNames(t *testing.T) {
	data, err := Marshal(Default())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), "- mute") {
		t.Fatalf("expected ladder names in document:\n%s", data)
	}
}

func TestBanClampsDeleteDays(t *testing.T) {
	if got := Ban(30).DeleteDays; got != MaxBanDeleteDays {
		t.Fatalf("expected %d, got %d", MaxBanDeleteDays, got)
	}
	if got := Ban(-2).DeleteDays; got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestApplyPreset(t *testing.T) {
	cfg := Default()
	ApplyPreset(&cfg, "HIGH")
	if cfg.Preset != PresetHigh || cfg.Heuristics.Rate.MaxMessages != 4 {
		t.Fatalf("high preset not applied: %+v", cfg.Heuristics.Rate)
	}
	ApplyPreset(&cfg, "bogus")
	if cfg.Preset != PresetMedium || cfg.Heuristics.Rate.MaxMessages != 5 {
		t.Fatalf("fallback preset not applied")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()
	clone.WhitelistedUsers.Add("u1")
	clone.EscalationLadder[0] = ActionBan
	if cfg.IsWhitelisted("u1") || cfg.EscalationLadder[0] != ActionWarn {
		t.Fatalf("clone shares state with original")
	}
}
