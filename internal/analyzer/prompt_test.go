package analyzer

import (
	"strings"
	"testing"
	"time"

	"github.com/sinain/sinain-core/internal/buffer"
	"github.com/sinain/sinain-core/internal/window"
)

func TestBuildPrompt_Sections(t *testing.T) {
	now := time.UnixMilli(100_000)
	win := &window.ContextWindow{
		CurrentApp: "VS Code",
		AppHistory: []buffer.AppTransition{{App: "Chrome"}, {App: "VS Code"}},
		ScreenEvents: []buffer.SenseEvent{
			{Ts: now.UnixMilli() - 3000, OCR: "func main() {\n\tpanic(\"boom\")\n}", Meta: buffer.SenseMeta{App: "code"}},
		},
		AudioEntries: []buffer.FeedItem{
			{Ts: now.UnixMilli() - 8000, Text: "why is this panicking"},
		},
		Preset: window.PresetStandard,
	}

	p := BuildPrompt(now, win)

	if !strings.Contains(p, "Active application: VS Code") {
		t.Error("missing active application line")
	}
	if !strings.Contains(p, "Application chain: Chrome -> VS Code") {
		t.Error("missing application chain")
	}
	if !strings.Contains(p, `- [3s ago] [VS Code] func main() { panic("boom") }`) {
		t.Errorf("OCR line not age-stamped or newlines not collapsed:\n%s", p)
	}
	if !strings.Contains(p, "- [8s ago] why is this panicking") {
		t.Error("missing audio line")
	}
	if !strings.Contains(p, "JSON object only") {
		t.Error("missing output instruction")
	}
}

func TestBuildPrompt_CapsPerEvent(t *testing.T) {
	now := time.UnixMilli(100_000)
	win := &window.ContextWindow{
		CurrentApp: "Terminal",
		ScreenEvents: []buffer.SenseEvent{
			{Ts: now.UnixMilli(), OCR: strings.Repeat("a", 500)},
		},
		Preset: window.RichnessPreset{Name: "test", MaxOcrChars: 40, MaxTranscriptChars: 40},
	}

	p := BuildPrompt(now, win)
	if strings.Contains(p, strings.Repeat("a", 41)) {
		t.Error("OCR excerpt must be capped at preset max")
	}
	if !strings.Contains(p, strings.Repeat("a", 40)) {
		t.Error("OCR excerpt must keep the first max chars")
	}
}

func TestBuildPrompt_EmptyWindow(t *testing.T) {
	win := &window.ContextWindow{Preset: window.PresetLean}
	p := BuildPrompt(time.UnixMilli(0), win)

	if !strings.Contains(p, "Active application: unknown") {
		t.Error("empty window must report unknown application")
	}
	if strings.Contains(p, "Screen (OCR)") || strings.Contains(p, "Audio transcripts") {
		t.Error("empty sections must be omitted")
	}
}
