package escalation

import (
	"errors"

	"sentinel-antispam/internal/rules"
)

var ErrEmptyLadder = errors.New("escalation ladder is empty")

// Resolve maps a 1-indexed violation count onto the ladder. Counts past the
// end repeat the last entry; counts below 1 are treated as the first violation.
func Resolve(violationCount int, ladder rules.Ladder) (rules.ActionKind, error) {
	if len(ladder) == 0 {
		return 0, ErrEmptyLadder
	}
	if violationCount < 1 {
		violationCount = 1
	}
	if violationCount > len(ladder) {
		return ladder[len(ladder)-1], nil
	}
	return ladder[violationCount-1], nil
}
