package rules

import "strings"

const (
	PresetLow    = "low"
	PresetMedium = "medium"
	PresetHigh   = "high"
)

func NormalizePreset(value string) string {
	switch strings.ToLower(value) {
	case PresetLow, PresetMedium, PresetHigh:
		return strings.ToLower(value)
	default:
		return PresetMedium
	}
}

// ApplyPreset rewrites the detection thresholds for the given sensitivity.
// Enable flags, lists and the ladder are left alone.
func ApplyPreset(cfg *RuleConfig, preset string) {
	cfg.Preset = NormalizePreset(preset)
	h := &cfg.Heuristics
	switch cfg.Preset {
	case PresetLow:
		h.Rate.MaxMessages = 8
		h.Mentions.MaxMentions = 8
		h.Emoji.MaxEmojis = 12
		h.Caps.MaxCapsPercentage = 85
		h.Duplicate.MaxDuplicates = 6
	case PresetHigh:
		h.Rate.MaxMessages = 4
		h.Mentions.MaxMentions = 3
		h.Emoji.MaxEmojis = 5
		h.Caps.MaxCapsPercentage = 60
		h.Duplicate.MaxDuplicates = 3
	default:
		h.Rate.MaxMessages = 5
		h.Mentions.MaxMentions = 5
		h.Emoji.MaxEmojis = 8
		h.Caps.MaxCapsPercentage = 70
		h.Duplicate.MaxDuplicates = 4
	}
}
