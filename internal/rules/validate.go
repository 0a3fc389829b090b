package rules

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidConfig = errors.New("invalid rule config")

// MaxTrackedMessages is the per-user history capacity; the rate heuristic
// cannot count past it.
const MaxTrackedMessages = 20

// MaxMuteDuration is the longest timeout the platform accepts.
const MaxMuteDuration = 28 * 24 * time.Hour

func (c RuleConfig) Validate() error {
	var errs []error
	if len(c.EscalationLadder) == 0 {
		errs = append(errs, fmt.Errorf("%w: escalation ladder is empty", ErrInvalidConfig))
	}
	for i, kind := range c.EscalationLadder {
		if !kind.Valid() {
			errs = append(errs, fmt.Errorf("%w: ladder entry %d has unknown action", ErrInvalidConfig, i+1))
		}
	}

	h := c.Heuristics
	if h.Rate.Enabled && (h.Rate.MaxMessages <= 0 || h.Rate.WindowSeconds <= 0) {
		errs = append(errs, fmt.Errorf("%w: rate heuristic needs positive max_messages and window_seconds", ErrInvalidConfig))
	}
	if h.Rate.Enabled && h.Rate.MaxMessages >= MaxTrackedMessages {
		errs = append(errs, fmt.Errorf("%w: max_messages must be below %d", ErrInvalidConfig, MaxTrackedMessages))
	}
	if h.Duplicate.Enabled && h.Duplicate.MaxDuplicates <= 0 {
		errs = append(errs, fmt.Errorf("%w: duplicate heuristic needs positive max_duplicates", ErrInvalidConfig))
	}
	if h.Mentions.Enabled && h.Mentions.MaxMentions < 0 {
		errs = append(errs, fmt.Errorf("%w: max_mentions must not be negative", ErrInvalidConfig))
	}
	if h.Emoji.Enabled && h.Emoji.MaxEmojis < 0 {
		errs = append(errs, fmt.Errorf("%w: max_emojis must not be negative", ErrInvalidConfig))
	}
	if h.Caps.Enabled && (h.Caps.MaxCapsPercentage < 0 || h.Caps.MaxCapsPercentage > 100) {
		errs = append(errs, fmt.Errorf("%w: max_caps_percentage must be within 0-100", ErrInvalidConfig))
	}
	if h.RepeatedChars.Enabled && h.RepeatedChars.MinRun < 2 {
		errs = append(errs, fmt.Errorf("%w: repeated_chars min_run must be at least 2", ErrInvalidConfig))
	}
	if c.MuteDurationSeconds < 0 {
		errs = append(errs, fmt.Errorf("%w: mute_duration_seconds must not be negative", ErrInvalidConfig))
	}
	// a zero-length timeout clears an existing one instead of muting
	if c.EscalationLadder.Contains(ActionMute) && c.MuteDurationSeconds == 0 {
		errs = append(errs, fmt.Errorf("%w: mute_duration_seconds must be positive when the ladder mutes", ErrInvalidConfig))
	}
	if c.MuteDuration() > MaxMuteDuration {
		errs = append(errs, fmt.Errorf("%w: mute_duration_seconds exceeds %s", ErrInvalidConfig, MaxMuteDuration))
	}
	return errors.Join(errs...)
}
