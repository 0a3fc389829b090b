package rules

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ActionKind int

const (
	ActionWarn ActionKind = iota + 1
	ActionMute
	ActionKick
	ActionBan
)

const MaxBanDeleteDays = 7

func (k ActionKind) String() string {
	switch k {
	case ActionWarn:
		return "warn"
	case ActionMute:
		return "mute"
	case ActionKick:
		return "kick"
	case ActionBan:
		return "ban"
	default:
		return "unknown"
	}
}

func (k ActionKind) Valid() bool {
	return k >= ActionWarn && k <= ActionBan
}

func ParseActionKind(value string) (ActionKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "warn":
		return ActionWarn, nil
	case "mute", "timeout":
		return ActionMute, nil
	case "kick":
		return ActionKick, nil
	case "ban":
		return ActionBan, nil
	default:
		return 0, fmt.Errorf("%w: unknown action %q", ErrInvalidConfig, value)
	}
}

func (k ActionKind) MarshalYAML() (interface{}, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: unknown action %d", ErrInvalidConfig, int(k))
	}
	return k.String(), nil
}

func (k *ActionKind) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseActionKind(raw)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Action is a resolved enforcement step. MuteDuration is only meaningful for
// ActionMute and DeleteDays only for ActionBan.
type Action struct {
	Kind         ActionKind
	MuteDuration time.Duration
	DeleteDays   int
}

func Warn() Action { return Action{Kind: ActionWarn} }

func Mute(duration time.Duration) Action {
	return Action{Kind: ActionMute, MuteDuration: duration}
}

func Kick() Action { return Action{Kind: ActionKick} }

func Ban(deleteDays int) Action {
	return Action{Kind: ActionBan, DeleteDays: ClampDeleteDays(deleteDays)}
}

func ClampDeleteDays(days int) int {
	if days < 0 {
		return 0
	}
	if days > MaxBanDeleteDays {
		return MaxBanDeleteDays
	}
	return days
}

func (a Action) String() string {
	switch a.Kind {
	case ActionMute:
		return fmt.Sprintf("mute(%s)", a.MuteDuration)
	case ActionBan:
		return fmt.Sprintf("ban(delete_days=%d)", a.DeleteDays)
	default:
		return a.Kind.String()
	}
}

// Ladder maps violation counts to actions: entry i applies to violation i+1,
// and the last entry applies to every count beyond the ladder.
type Ladder []ActionKind

func DefaultLadder() Ladder {
	return Ladder{ActionWarn, ActionMute, ActionKick, ActionBan}
}

func (l Ladder) Contains(kind ActionKind) bool {
	for _, entry := range l {
		if entry == kind {
			return true
		}
	}
	return false
}

func (l Ladder) String() string {
	parts := make([]string, len(l))
	for i, kind := range l {
		parts[i] = kind.String()
	}
	return strings.Join(parts, " > ")
}
