package escalation

import (
	"strings"
	"testing"
	"time"

	"github.com/sinain/sinain-core/internal/analyzer"
	"github.com/sinain/sinain-core/internal/buffer"
	"github.com/sinain/sinain-core/internal/window"
)

func TestBuildMessage_Sections(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	win := &window.ContextWindow{
		CurrentApp: "VS Code",
		AppHistory: []buffer.AppTransition{{App: "Chrome"}, {App: "VS Code"}},
		ScreenEvents: []buffer.SenseEvent{
			{Ts: now.UnixMilli() - 4000, OCR: "panic: index out of range", Meta: buffer.SenseMeta{App: "code"}},
			{Ts: now.UnixMilli() - 9000, OCR: "all tests passing", Meta: buffer.SenseMeta{App: "code"}},
		},
		AudioEntries: []buffer.FeedItem{
			{Ts: now.UnixMilli() - 6000, Text: "this keeps breaking"},
		},
		Preset: window.PresetRich,
	}
	entry := analyzer.Entry{TickID: 12, HUD: "Debugging", Digest: "The build panics on startup."}

	msg := BuildMessage(ModeRich, now, entry, win)

	if !strings.HasPrefix(msg, "[sinain-hud live context — tick #12]") {
		t.Error("missing header")
	}
	for _, want := range []string{
		"## Digest", "The build panics on startup.",
		"## Active Context", "VS Code", "Chrome → VS Code",
		"## Errors (high priority)", "```\npanic: index out of range\n```",
		"## Screen (recent OCR)", "- [4s ago] [VS Code] panic: index out of range",
		"- [9s ago] [VS Code] all tests passing",
		"## Audio (recent transcripts)", `- [6s ago] "this keeps breaking"`,
		"Do not reply with NO_REPLY",
		"Respond naturally — this will appear on the user's HUD overlay.",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q\n---\n%s", want, msg)
		}
	}
}

func TestBuildMessage_SelectiveInstructions(t *testing.T) {
	msg := BuildMessage(ModeSelective, time.UnixMilli(0), analyzer.Entry{TickID: 1, Digest: "d"}, emptyWindow())
	if !strings.Contains(msg, "2-5 sentences") {
		t.Error("selective mode must request a short reply")
	}
	if strings.Contains(msg, "Do not reply with NO_REPLY") {
		t.Error("selective mode must allow NO_REPLY")
	}
}

func TestBuildMessage_LeanPresetBoundsContext(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	var screens []buffer.SenseEvent
	for i := 0; i < 10; i++ {
		screens = append(screens, buffer.SenseEvent{Ts: now.UnixMilli() - int64(i*1000), OCR: "line"})
	}
	win := &window.ContextWindow{CurrentApp: "Terminal", ScreenEvents: screens, Preset: window.PresetRich}

	msg := BuildMessage(ModeSelective, now, analyzer.Entry{TickID: 1, Digest: "d"}, win)
	if got := strings.Count(msg, "- ["); got != window.PresetLean.MaxScreenEvents {
		t.Errorf("selective mode must use the lean preset: %d screen lines", got)
	}
}
