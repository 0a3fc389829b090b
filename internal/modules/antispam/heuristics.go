package antispam

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"sentinel-antispam/internal/models"
	"sentinel-antispam/internal/rules"
	"sentinel-antispam/internal/utils"
)

type Verdict struct {
	Kind      rules.HeuristicKind
	Triggered bool
	Reason    string
}

var customEmojiRegex = regexp.MustCompile(`<a?:\w+:\d+>`)

var inviteHosts = map[string]struct{}{
	"discord.gg": {},
}

var invitePathHosts = map[string]struct{}{
	"discord.com":    {},
	"discordapp.com": {},
}

var shortenerHosts = map[string]struct{}{
	"bit.ly":      {},
	"tinyurl.com": {},
	"t.co":        {},
	"goo.gl":      {},
	"is.gd":       {},
	"cutt.ly":     {},
	"ow.ly":       {},
	"rebrand.ly":  {},
	"shorturl.at": {},
	"rb.gy":       {},
	"tiny.cc":     {},
}

var scamPhrases = []string{"free nitro", "free money", "nitro for free", "claim your nitro", "steam gift"}

// Exempt reports whether the message skips every heuristic.
func Exempt(msg models.Message, cfg rules.RuleConfig) bool {
	return msg.AuthorCanBypass ||
		cfg.IsWhitelisted(msg.AuthorID) ||
		cfg.IsIgnoredChannel(msg.ChannelID) ||
		cfg.HasIgnoredRole(msg.AuthorRoleIDs)
}

// HeuristicEngine runs the enabled detectors in a fixed order. The rate check
// reads the tracker, so the message must already be recorded.
type HeuristicEngine struct {
	tracker *Tracker
}

func NewHeuristicEngine(tracker *Tracker) *HeuristicEngine {
	return &HeuristicEngine{tracker: tracker}
}

// Evaluate returns the triggered verdicts only; an empty result means clean.
func (h *HeuristicEngine) Evaluate(msg models.Message, cfg rules.RuleConfig) []Verdict {
	if Exempt(msg, cfg) {
		return nil
	}

	var verdicts []Verdict
	for _, kind := range rules.AllHeuristics() {
		if !cfg.Heuristics.Enabled(kind) {
			continue
		}
		if verdict := h.run(kind, msg, cfg.Heuristics); verdict.Triggered {
			verdicts = append(verdicts, verdict)
		}
	}
	return verdicts
}

func (h *HeuristicEngine) run(kind rules.HeuristicKind, msg models.Message, params rules.Heuristics) Verdict {
	switch kind {
	case rules.HeuristicRate:
		return h.checkRate(msg, params.Rate)
	case rules.HeuristicDuplicate:
		return checkDuplicate(msg.Content, params.Duplicate)
	case rules.HeuristicMentions:
		return checkMentions(msg, params.Mentions)
	case rules.HeuristicEmoji:
		return checkEmoji(msg.Content, params.Emoji)
	case rules.HeuristicCaps:
		return checkCaps(msg.Content, params.Caps)
	case rules.HeuristicLinks:
		return checkLinks(msg.Content, params.Links)
	case rules.HeuristicRepeatedChars:
		return checkRepeatedChars(msg.Content, params.RepeatedChars)
	default:
		return Verdict{Kind: kind}
	}
}

func (h *HeuristicEngine) checkRate(msg models.Message, params rules.RateParams) Verdict {
	count := h.tracker.CountWithin(msg.GuildID, msg.AuthorID, params.Window(), msg.CreatedAt)
	if count <= params.MaxMessages {
		return Verdict{Kind: rules.HeuristicRate}
	}
	return Verdict{
		Kind:      rules.HeuristicRate,
		Triggered: true,
		Reason:    fmt.Sprintf("%d messages in %ds (max %d)", count, params.WindowSeconds, params.MaxMessages),
	}
}

// checkDuplicate looks for one word repeated inside the message itself.
func checkDuplicate(content string, params rules.DuplicateParams) Verdict {
	if utf8.RuneCountInString(content) < params.MinLength {
		return Verdict{Kind: rules.HeuristicDuplicate}
	}

	counts := make(map[string]int)
	worst, worstCount := "", 0
	for _, token := range strings.Fields(strings.ToLower(content)) {
		counts[token]++
		if counts[token] > worstCount {
			worst, worstCount = token, counts[token]
		}
	}
	if worstCount <= params.MaxDuplicates {
		return Verdict{Kind: rules.HeuristicDuplicate}
	}
	return Verdict{
		Kind:      rules.HeuristicDuplicate,
		Triggered: true,
		Reason:    fmt.Sprintf("%q repeated %d times (max %d)", truncate(worst, 32), worstCount, params.MaxDuplicates),
	}
}

func checkMentions(msg models.Message, params rules.MentionParams) Verdict {
	total := msg.MentionedUserCount + msg.MentionedRoleCount
	if total <= params.MaxMentions {
		return Verdict{Kind: rules.HeuristicMentions}
	}
	return Verdict{
		Kind:      rules.HeuristicMentions,
		Triggered: true,
		Reason:    fmt.Sprintf("%d mentions (max %d)", total, params.MaxMentions),
	}
}

func checkEmoji(content string, params rules.EmojiParams) Verdict {
	count := CountEmoji(content)
	if count <= params.MaxEmojis {
		return Verdict{Kind: rules.HeuristicEmoji}
	}
	return Verdict{
		Kind:      rules.HeuristicEmoji,
		Triggered: true,
		Reason:    fmt.Sprintf("%d emojis (max %d)", count, params.MaxEmojis),
	}
}

// CountEmoji counts custom emoji markup plus pictographic code points.
func CountEmoji(content string) int {
	count := len(customEmojiRegex.FindAllStringIndex(content, -1))
	for _, r := range customEmojiRegex.ReplaceAllString(content, "") {
		if isEmojiRune(r) {
			count++
		}
	}
	return count
}

func isEmojiRune(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r >= 0x1F000 && r <= 0x1F0FF:
		return true
	case r >= 0x1F100 && r <= 0x1F1FF:
		return true
	case r == 0x2B50 || r == 0x2B55 || r == 0x2B1B || r == 0x2B1C:
		return true
	}
	return false
}

func checkCaps(content string, params rules.CapsParams) Verdict {
	total := utf8.RuneCountInString(content)
	if total == 0 || total < params.MinLength {
		return Verdict{Kind: rules.HeuristicCaps}
	}

	upper := 0
	for _, r := range content {
		if unicode.IsUpper(r) {
			upper++
		}
	}
	pct := float64(upper) / float64(total) * 100
	if pct <= params.MaxCapsPercentage {
		return Verdict{Kind: rules.HeuristicCaps}
	}
	return Verdict{
		Kind:      rules.HeuristicCaps,
		Triggered: true,
		Reason:    fmt.Sprintf("%.1f%% caps (max %g%%)", pct, params.MaxCapsPercentage),
	}
}

func checkLinks(content string, params rules.LinkParams) Verdict {
	for _, raw := range utils.ExtractURLs(content) {
		normalized, host, err := utils.NormalizeURL(raw)
		if err != nil || host == "" {
			continue
		}
		if reason := classifyLink(normalized, host, params); reason != "" {
			return Verdict{Kind: rules.HeuristicLinks, Triggered: true, Reason: reason}
		}
	}

	lower := strings.ToLower(content)
	for _, phrase := range scamPhrases {
		if strings.Contains(lower, phrase) {
			return Verdict{Kind: rules.HeuristicLinks, Triggered: true, Reason: fmt.Sprintf("scam phrase %q", phrase)}
		}
	}
	return Verdict{Kind: rules.HeuristicLinks}
}

func classifyLink(normalized, host string, params rules.LinkParams) string {
	allowed, blocked := utils.DomainMatch(host, params.AllowedDomains, params.BlockedDomains)
	if allowed {
		return ""
	}
	if blocked {
		return "blocked domain " + host
	}
	if _, invite := utils.DomainMatch(host, nil, inviteHosts); invite {
		return "invite link " + host
	}
	if _, ok := invitePathHosts[host]; ok && strings.Contains(normalized, host+"/invite/") {
		return "invite link " + host
	}
	if _, short := utils.DomainMatch(host, nil, shortenerHosts); short {
		return "link shortener " + host
	}
	return ""
}

func checkRepeatedChars(content string, params rules.RepeatedCharsParams) Verdict {
	var prev rune
	run, longest := 0, 0
	var longestRune rune
	for i, r := range content {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		prev = r
		if run > longest {
			longest, longestRune = run, r
		}
	}
	if longest < params.MinRun {
		return Verdict{Kind: rules.HeuristicRepeatedChars}
	}
	return Verdict{
		Kind:      rules.HeuristicRepeatedChars,
		Triggered: true,
		Reason:    fmt.Sprintf("%q repeated %d times in a row (min %d)", longestRune, longest, params.MinRun),
	}
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max]) + "…"
}

func reasons(verdicts []Verdict) []string {
	out := make([]string, 0, len(verdicts))
	for _, verdict := range verdicts {
		out = append(out, verdict.Kind.String()+": "+verdict.Reason)
	}
	return out
}
