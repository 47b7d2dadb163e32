package analyzer

import (
	"fmt"
	"strings"
	"time"

	"github.com/sinain/sinain-core/internal/window"
)

// systemPrompt fixes the model's role and output contract.
const systemPrompt = `You are a quiet observer summarizing what a single user is doing at their computer right now, based on screen OCR and ambient audio transcripts.

Respond with strict JSON only, no code fences, matching:
{"hud": "<present-tense summary, at most 15 words>", "digest": "<3-5 sentences describing the activity, progress and any problems visible>"}

If there is no meaningful activity, use "Idle" as the hud.`

// BuildPrompt renders the user-side prompt from one context window.
func BuildPrompt(now time.Time, win *window.ContextWindow) string {
	var b strings.Builder

	b.WriteString("Recent activity on the user's machine, newest first.\n\n")

	app := win.CurrentApp
	if app == "" {
		app = "unknown"
	}
	fmt.Fprintf(&b, "Active application: %s\n", app)

	if len(win.AppHistory) > 1 {
		names := make([]string, 0, len(win.AppHistory))
		for _, tr := range win.AppHistory {
			names = append(names, tr.App)
		}
		fmt.Fprintf(&b, "Application chain: %s\n", strings.Join(names, " -> "))
	}

	if len(win.ScreenEvents) > 0 {
		b.WriteString("\nScreen (OCR), newest first:\n")
		for _, ev := range win.ScreenEvents {
			if ev.OCR == "" {
				continue
			}
			fmt.Fprintf(&b, "- [%ds ago] [%s] %s\n",
				agoSeconds(now, ev.Ts),
				window.NormalizeAppName(ev.Meta.App),
				capLine(ev.OCR, win.Preset.MaxOcrChars))
		}
	}

	if len(win.AudioEntries) > 0 {
		b.WriteString("\nAudio transcripts, newest first:\n")
		for _, it := range win.AudioEntries {
			fmt.Fprintf(&b, "- [%ds ago] %s\n",
				agoSeconds(now, it.Ts),
				capLine(it.Text, win.Preset.MaxTranscriptChars))
		}
	}

	b.WriteString("\nReply with the JSON object only.")
	return b.String()
}

func agoSeconds(now time.Time, ts int64) int64 {
	s := (now.UnixMilli() - ts) / 1000
	if s < 0 {
		s = 0
	}
	return s
}

// capLine collapses newlines to spaces and truncates to max chars.
func capLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if max > 0 && len(s) > max {
		s = s[:max]
	}
	return s
}
