package escalation

import (
	"fmt"
	"strings"
	"time"

	"github.com/sinain/sinain-core/internal/analyzer"
	"github.com/sinain/sinain-core/internal/window"
)

// presetForMode maps the escalation mode to how much raw context the
// assistant message carries.
func presetForMode(mode Mode) window.RichnessPreset {
	switch mode {
	case ModeFocus:
		return window.PresetStandard
	case ModeRich:
		return window.PresetRich
	default:
		return window.PresetLean
	}
}

// BuildMessage renders the structured escalation text for one tick.
func BuildMessage(mode Mode, now time.Time, entry analyzer.Entry, win *window.ContextWindow) string {
	preset := presetForMode(mode)
	var b strings.Builder

	fmt.Fprintf(&b, "[sinain-hud live context — tick #%d]\n", entry.TickID)

	b.WriteString("\n## Digest\n")
	b.WriteString(entry.Digest + "\n")

	b.WriteString("\n## Active Context\n")
	app := win.CurrentApp
	if app == "" {
		app = "unknown"
	}
	b.WriteString(app + "\n")
	if len(win.AppHistory) > 0 {
		names := make([]string, 0, len(win.AppHistory))
		for _, tr := range win.AppHistory {
			names = append(names, tr.App)
		}
		b.WriteString(strings.Join(names, " → ") + "\n")
	}

	var errorBlocks []string
	for _, ev := range win.ScreenEvents {
		if ev.OCR != "" && containsAny(strings.ToLower(ev.OCR), errorWords) {
			errorBlocks = append(errorBlocks, truncate(ev.OCR, preset.MaxOcrChars))
		}
	}
	if len(errorBlocks) > 0 {
		b.WriteString("\n## Errors (high priority)\n")
		for _, block := range errorBlocks {
			b.WriteString("```\n" + block + "\n```\n")
		}
	}

	screen := win.ScreenEvents
	if len(screen) > preset.MaxScreenEvents {
		screen = screen[:preset.MaxScreenEvents]
	}
	if len(screen) > 0 {
		b.WriteString("\n## Screen (recent OCR)\n")
		for _, ev := range screen {
			if ev.OCR == "" {
				continue
			}
			fmt.Fprintf(&b, "- [%ds ago] [%s] %s\n",
				agoSeconds(now, ev.Ts),
				window.NormalizeAppName(ev.Meta.App),
				truncate(collapse(ev.OCR), preset.MaxOcrChars))
		}
	}

	audio := win.AudioEntries
	if len(audio) > preset.MaxAudioEntries {
		audio = audio[:preset.MaxAudioEntries]
	}
	if len(audio) > 0 {
		b.WriteString("\n## Audio (recent transcripts)\n")
		for _, it := range audio {
			fmt.Fprintf(&b, "- [%ds ago] %q\n",
				agoSeconds(now, it.Ts),
				truncate(it.Text, preset.MaxTranscriptChars))
		}
	}

	b.WriteString("\n")
	if mode == ModeFocus || mode == ModeRich {
		b.WriteString("Reply with concrete observations or suggestions about what the user is doing. Do not reply with NO_REPLY; a response is always expected in this mode.\n")
	} else {
		b.WriteString("If something here deserves the user's attention, reply in 2-5 sentences, actionable when relevant. Otherwise reply with NO_REPLY.\n")
	}
	b.WriteString("Respond naturally — this will appear on the user's HUD overlay.\n")

	return b.String()
}

func agoSeconds(now time.Time, ts int64) int64 {
	s := (now.UnixMilli() - ts) / 1000
	if s < 0 {
		s = 0
	}
	return s
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	if max > 0 && len(s) > max {
		return s[:max]
	}
	return s
}
