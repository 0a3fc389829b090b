package rules

import (
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// HeuristicKind identifies one spam detector. The numeric order is the
// order detectors run in and the order their reasons are reported.
type HeuristicKind int

const (
	HeuristicRate HeuristicKind = iota
	HeuristicDuplicate
	HeuristicMentions
	HeuristicEmoji
	HeuristicCaps
	HeuristicLinks
	HeuristicRepeatedChars
)

var heuristicNames = [...]string{
	HeuristicRate:          "rate",
	HeuristicDuplicate:     "duplicate",
	HeuristicMentions:      "mentions",
	HeuristicEmoji:         "emoji",
	HeuristicCaps:          "caps",
	HeuristicLinks:         "links",
	HeuristicRepeatedChars: "repeated_chars",
}

func (k HeuristicKind) String() string {
	if k < 0 || int(k) >= len(heuristicNames) {
		return "unknown"
	}
	return heuristicNames[k]
}

// AllHeuristics returns every kind in evaluation order.
func AllHeuristics() []HeuristicKind {
	kinds := make([]HeuristicKind, len(heuristicNames))
	for i := range heuristicNames {
		kinds[i] = HeuristicKind(i)
	}
	return kinds
}

type RateParams struct {
	Enabled       bool `yaml:"enabled"`
	MaxMessages   int  `yaml:"max_messages"`
	WindowSeconds int  `yaml:"window_seconds"`
}

func (p RateParams) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

type DuplicateParams struct {
	Enabled       bool `yaml:"enabled"`
	MaxDuplicates int  `yaml:"max_duplicates"`
	MinLength     int  `yaml:"min_length"`
}

type MentionParams struct {
	Enabled     bool `yaml:"enabled"`
	MaxMentions int  `yaml:"max_mentions"`
}

type EmojiParams struct {
	Enabled   bool `yaml:"enabled"`
	MaxEmojis int  `yaml:"max_emojis"`
}

type CapsParams struct {
	Enabled           bool    `yaml:"enabled"`
	MaxCapsPercentage float64 `yaml:"max_caps_percentage"`
	MinLength         int     `yaml:"min_length"`
}

type LinkParams struct {
	Enabled        bool  `yaml:"enabled"`
	AllowedDomains IDSet `yaml:"allowed_domains"`
	BlockedDomains IDSet `yaml:"blocked_domains"`
}

type RepeatedCharsParams struct {
	Enabled bool `yaml:"enabled"`
	MinRun  int  `yaml:"min_run"`
}

type Heuristics struct {
	Rate          RateParams          `yaml:"rate"`
	Duplicate     DuplicateParams     `yaml:"duplicate"`
	Mentions      MentionParams       `yaml:"mentions"`
	Emoji         EmojiParams         `yaml:"emoji"`
	Caps          CapsParams          `yaml:"caps"`
	Links         LinkParams          `yaml:"links"`
	RepeatedChars RepeatedCharsParams `yaml:"repeated_chars"`
}

func (h Heuristics) Enabled(kind HeuristicKind) bool {
	switch kind {
	case HeuristicRate:
		return h.Rate.Enabled
	case HeuristicDuplicate:
		return h.Duplicate.Enabled
	case HeuristicMentions:
		return h.Mentions.Enabled
	case HeuristicEmoji:
		return h.Emoji.Enabled
	case HeuristicCaps:
		return h.Caps.Enabled
	case HeuristicLinks:
		return h.Links.Enabled
	case HeuristicRepeatedChars:
		return h.RepeatedChars.Enabled
	default:
		return false
	}
}

// RuleConfig is the per-guild anti-spam configuration. A value read for an
// evaluation is treated as an immutable snapshot.
type RuleConfig struct {
	Enabled                bool       `yaml:"enabled"`
	Preset                 string     `yaml:"preset"`
	Heuristics             Heuristics `yaml:"heuristics"`
	EscalationLadder       Ladder     `yaml:"escalation_ladder"`
	WhitelistedUsers       IDSet      `yaml:"whitelisted_users"`
	IgnoredRoles           IDSet      `yaml:"ignored_roles"`
	IgnoredChannels        IDSet      `yaml:"ignored_channels"`
	DeleteOffendingMessage bool       `yaml:"delete_offending_message"`
	NotifyUser             bool       `yaml:"notify_user"`
	MuteDurationSeconds    int        `yaml:"mute_duration_seconds"`
	BanDeleteDays          int        `yaml:"ban_delete_days"`
	LogChannelID           string     `yaml:"log_channel_id"`
}

func Default() RuleConfig {
	return RuleConfig{
		Enabled: true,
		Preset:  PresetMedium,
		Heuristics: Heuristics{
			Rate:          RateParams{Enabled: true, MaxMessages: 5, WindowSeconds: 10},
			Duplicate:     DuplicateParams{Enabled: true, MaxDuplicates: 4, MinLength: 10},
			Mentions:      MentionParams{Enabled: true, MaxMentions: 5},
			Emoji:         EmojiParams{Enabled: true, MaxEmojis: 8},
			Caps:          CapsParams{Enabled: true, MaxCapsPercentage: 70, MinLength: 10},
			Links:         LinkParams{Enabled: true, AllowedDomains: IDSet{}, BlockedDomains: IDSet{}},
			RepeatedChars: RepeatedCharsParams{Enabled: true, MinRun: 5},
		},
		EscalationLadder:       DefaultLadder(),
		WhitelistedUsers:       IDSet{},
		IgnoredRoles:           IDSet{},
		IgnoredChannels:        IDSet{},
		DeleteOffendingMessage: true,
		NotifyUser:             true,
		MuteDurationSeconds:    300,
		BanDeleteDays:          1,
	}
}

func (c RuleConfig) MuteDuration() time.Duration {
	return time.Duration(c.MuteDurationSeconds) * time.Second
}

// ActionFor attaches the configured payload to a ladder entry.
func (c RuleConfig) ActionFor(kind ActionKind) Action {
	switch kind {
	case ActionMute:
		return Mute(c.MuteDuration())
	case ActionBan:
		return Ban(c.BanDeleteDays)
	case ActionKick:
		return Kick()
	default:
		return Warn()
	}
}

func (c RuleConfig) IsWhitelisted(userID string) bool {
	return c.WhitelistedUsers.Has(userID)
}

func (c RuleConfig) IsIgnoredChannel(channelID string) bool {
	return c.IgnoredChannels.Has(channelID)
}

func (c RuleConfig) HasIgnoredRole(roleIDs []string) bool {
	for _, roleID := range roleIDs {
		if c.IgnoredRoles.Has(roleID) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without touching cached snapshots.
func (c RuleConfig) Clone() RuleConfig {
	out := c
	out.EscalationLadder = append(Ladder(nil), c.EscalationLadder...)
	out.WhitelistedUsers = c.WhitelistedUsers.Clone()
	out.IgnoredRoles = c.IgnoredRoles.Clone()
	out.IgnoredChannels = c.IgnoredChannels.Clone()
	out.Heuristics.Links.AllowedDomains = c.Heuristics.Links.AllowedDomains.Clone()
	out.Heuristics.Links.BlockedDomains = c.Heuristics.Links.BlockedDomains.Clone()
	return out
}

// IDSet is a set of snowflakes or domains, encoded as a sorted YAML sequence.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		set.Add(id)
	}
	return set
}

func (s IDSet) Has(id string) bool {
	if id == "" || s == nil {
		return false
	}
	_, ok := s[id]
	return ok
}

func (s IDSet) Add(id string) {
	if id != "" {
		s[id] = struct{}{}
	}
}

func (s IDSet) Remove(id string) {
	delete(s, id)
}

func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

func (s IDSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s IDSet) MarshalYAML() (interface{}, error) {
	return s.Sorted(), nil
}

func (s *IDSet) UnmarshalYAML(value *yaml.Node) error {
	var ids []string
	if err := value.Decode(&ids); err != nil {
		return err
	}
	*s = NewIDSet(ids...)
	return nil
}
