package situation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sinain/sinain-core/internal/buffer"
	"github.com/sinain/sinain-core/internal/common/logger"
	"github.com/sinain/sinain-core/internal/window"
)

func testLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	return log
}

func TestWriter_RendersAllSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "situation.md")
	w := NewWriter(path, true, testLogger())
	now := time.UnixMilli(10_000_000)
	w.now = func() time.Time { return now }

	win := &window.ContextWindow{
		ScreenEvents: []buffer.SenseEvent{
			{Ts: now.UnixMilli() - 5000, OCR: "panic: runtime error", Meta: buffer.SenseMeta{App: "code"}},
		},
		AudioEntries: []buffer.FeedItem{
			{Ts: now.UnixMilli() - 12_000, Text: "let me check the stack trace"},
		},
		AppHistory: []buffer.AppTransition{{App: "Chrome"}, {App: "VS Code"}},
	}

	err := w.Write(State{
		Digest:     "User is debugging a runtime panic.",
		ParsedOK:   true,
		TickID:     7,
		CurrentApp: "VS Code",
		Window:     win,
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	content := string(data)

	if !strings.HasPrefix(content, "# Situation\n") {
		t.Error("first line must be the situation header")
	}
	for _, want := range []string{
		"## Digest", "User is debugging a runtime panic.",
		"## Active Application", "VS Code",
		"## App History", "Chrome -> VS Code",
		"## Screen (OCR)", "- [5s ago] [VS Code] panic: runtime error",
		"## Audio Transcripts", "- [12s ago] let me check the stack trace",
		"## Metadata", "Screen events: 1 | Audio entries: 1 | Parsed OK: true",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("snapshot missing %q\n---\n%s", want, content)
		}
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file must not survive a successful write")
	}
}

func TestWriter_EmptyStateStillValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "situation.md")
	w := NewWriter(path, true, testLogger())

	if err := w.Write(State{}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	content := string(data)
	if !strings.HasPrefix(content, "# Situation\n") {
		t.Error("header required even for an empty state")
	}
	if !strings.Contains(content, "(no digest yet)") {
		t.Error("empty digest must render a placeholder")
	}
	if !strings.Contains(content, "unknown") {
		t.Error("empty app must render as unknown")
	}
	if strings.Contains(content, "## App History") || strings.Contains(content, "## Screen (OCR)") {
		t.Error("optional sections must be omitted when empty")
	}
}

func TestWriter_TruncatesLongExcerpts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "situation.md")
	w := NewWriter(path, true, testLogger())
	now := time.UnixMilli(1_000_000)
	w.now = func() time.Time { return now }

	long := strings.Repeat("x", 900)
	win := &window.ContextWindow{
		ScreenEvents: []buffer.SenseEvent{{Ts: now.UnixMilli(), OCR: long}},
	}
	if err := w.Write(State{Window: win}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), strings.Repeat("x", 501)) {
		t.Error("OCR excerpt must be capped at 500 chars")
	}
	if !strings.Contains(string(data), strings.Repeat("x", 500)) {
		t.Error("OCR excerpt must keep the first 500 chars")
	}
}

func TestWriter_DisabledIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "situation.md")
	w := NewWriter(path, false, testLogger())

	if err := w.Write(State{Digest: "x"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("disabled writer must not create the file")
	}
}
