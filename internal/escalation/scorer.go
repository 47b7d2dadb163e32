// Package escalation decides when a tick's digest warrants waking the
// external assistant, builds the escalation message and delivers it.
package escalation

import (
	"strings"

	"github.com/sinain/sinain-core/internal/buffer"
)

// Threshold is the minimum additive score for a selective-mode escalation.
const Threshold = 3

// Mode gates escalation behavior.
type Mode string

const (
	ModeOff       Mode = "off"
	ModeSelective Mode = "selective"
	ModeFocus     Mode = "focus"
	ModeRich      Mode = "rich"
)

// ValidMode reports whether s names a known mode.
func ValidMode(s string) bool {
	switch Mode(s) {
	case ModeOff, ModeSelective, ModeFocus, ModeRich:
		return true
	}
	return false
}

// errorWords match in the lowercased digest. Weight 3.
var errorWords = []string{
	"error", "failed", "failure", "exception", "crash", "traceback",
	"typeerror", "referenceerror", "syntaxerror", "cannot read",
	"undefined is not", "exit code", "segfault", "panic", "fatal", "enoent",
}

// questionWords match in lowercased audio transcripts. Weight 2.
var questionWords = []string{
	"how do i", "how to", "what if", "why is", "help me", "not working",
	"stuck", "confused", "any ideas", "suggestions",
}

// codeIssueWords match in the lowercased digest. Weight 1.
var codeIssueWords = []string{"todo", "fixme", "hack", "workaround", "deprecated"}

// appChurnThreshold is the app-history length that counts as churn. Weight 1.
const appChurnThreshold = 4

// Score is the additive result with the categories that fired.
type Score struct {
	Total   int      `json:"total"`
	Reasons []string `json:"reasons"`
}

// ScoreTick scores one digest against its context. Each category counts at
// most once.
func ScoreTick(digest string, audio []buffer.FeedItem, appHistory []buffer.AppTransition) Score {
	var s Score
	lower := strings.ToLower(digest)

	if containsAny(lower, errorWords) {
		s.Total += 3
		s.Reasons = append(s.Reasons, "error")
	}

	for _, it := range audio {
		if containsAny(strings.ToLower(it.Text), questionWords) {
			s.Total += 2
			s.Reasons = append(s.Reasons, "question")
			break
		}
	}

	if containsAny(lower, codeIssueWords) {
		s.Total++
		s.Reasons = append(s.Reasons, "code-issue")
	}

	if len(appHistory) >= appChurnThreshold {
		s.Total++
		s.Reasons = append(s.Reasons, "app-churn")
	}

	return s
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// idleHUDs never escalate.
var idleHUDs = map[string]bool{"Idle": true, "—": true}

// Decide is the pure escalation gate.
func Decide(mode Mode, nowMs, lastEscalationMs, cooldownMs int64, hud, digest, lastEscalatedDigest string, score Score) bool {
	if mode == ModeOff {
		return false
	}
	if lastEscalationMs > 0 && nowMs-lastEscalationMs < cooldownMs {
		return false
	}
	if idleHUDs[hud] {
		return false
	}
	if mode == ModeFocus || mode == ModeRich {
		return true
	}
	// selective
	if digest == lastEscalatedDigest {
		return false
	}
	return score.Total >= Threshold
}
