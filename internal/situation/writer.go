// Package situation renders the machine-readable snapshot file consumed by
// external collaborator processes.
package situation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sinain/sinain-core/internal/buffer"
	"github.com/sinain/sinain-core/internal/common/logger"
	"github.com/sinain/sinain-core/internal/window"
)

// maxSectionChars caps each OCR excerpt and transcript line.
const maxSectionChars = 500

// Header is the required first line; consumers key on it.
const Header = "# Situation"

// State is everything one snapshot renders.
type State struct {
	Digest     string
	ParsedOK   bool
	TickID     int64
	CurrentApp string
	Window     *window.ContextWindow
}

// Writer atomically maintains the snapshot file at a fixed path.
type Writer struct {
	path    string
	enabled bool
	now     func() time.Time
	log     *logger.Logger
}

// NewWriter creates a writer. A disabled writer turns Write into a no-op.
func NewWriter(path string, enabled bool, log *logger.Logger) *Writer {
	return &Writer{path: path, enabled: enabled, now: time.Now, log: log}
}

// Write renders st and atomically replaces the snapshot file. The temp file
// is removed best-effort on failure. Readers never observe a partial file.
func (w *Writer) Write(st State) error {
	if !w.enabled || w.path == "" {
		return nil
	}

	content := w.render(st)

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}
	return nil
}

func (w *Writer) render(st State) string {
	now := w.now()
	var b strings.Builder

	b.WriteString(Header + "\n")
	fmt.Fprintf(&b, "Updated: %s | Tick: %d\n", now.UTC().Format(time.RFC3339), st.TickID)

	b.WriteString("\n## Digest\n")
	digest := st.Digest
	if digest == "" {
		digest = "(no digest yet)"
	}
	b.WriteString(digest + "\n")

	b.WriteString("\n## Active Application\n")
	app := st.CurrentApp
	if app == "" {
		app = buffer.UnknownApp
	}
	b.WriteString(app + "\n")

	screenCount, audioCount := 0, 0
	if st.Window != nil {
		screenCount = len(st.Window.ScreenEvents)
		audioCount = len(st.Window.AudioEntries)

		if len(st.Window.AppHistory) > 0 {
			b.WriteString("\n## App History\n")
			names := make([]string, 0, len(st.Window.AppHistory))
			for _, tr := range st.Window.AppHistory {
				names = append(names, tr.App)
			}
			b.WriteString(strings.Join(names, " -> ") + "\n")
		}

		if screenCount > 0 {
			b.WriteString("\n## Screen (OCR)\n")
			for _, ev := range st.Window.ScreenEvents {
				if ev.OCR == "" {
					continue
				}
				fmt.Fprintf(&b, "- [%ds ago] [%s] %s\n",
					agoSeconds(now, ev.Ts), appOrUnknown(ev.Meta.App), truncate(ev.OCR, maxSectionChars))
			}
		}

		if audioCount > 0 {
			b.WriteString("\n## Audio Transcripts\n")
			for _, it := range st.Window.AudioEntries {
				fmt.Fprintf(&b, "- [%ds ago] %s\n",
					agoSeconds(now, it.Ts), truncate(it.Text, maxSectionChars))
			}
		}
	}

	b.WriteString("\n## Metadata\n")
	fmt.Fprintf(&b, "Screen events: %d | Audio entries: %d | Parsed OK: %t\n",
		screenCount, audioCount, st.ParsedOK)

	return b.String()
}

func agoSeconds(now time.Time, ts int64) int64 {
	s := (now.UnixMilli() - ts) / 1000
	if s < 0 {
		s = 0
	}
	return s
}

func appOrUnknown(app string) string {
	if app == "" {
		return buffer.UnknownApp
	}
	return window.NormalizeAppName(app)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
