package telemetry

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestJournal_AppendAndRotate(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, testLogger())
	defer j.Close()

	day1 := time.Date(2026, 8, 24, 23, 59, 0, 0, time.UTC)
	j.now = func() time.Time { return day1 }

	j.Append(Trace{TraceID: "a", TickID: 1})
	j.Append(Trace{TraceID: "b", TickID: 2})

	day2 := day1.Add(2 * time.Minute)
	j.now = func() time.Time { return day2 }
	j.Append(Trace{TraceID: "c", TickID: 3})

	lines := readLines(t, filepath.Join(dir, "2026-08-24.jsonl"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines on day one, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"traceId":"a"`) {
		t.Errorf("unexpected first line: %s", lines[0])
	}

	lines = readLines(t, filepath.Join(dir, "2026-08-25.jsonl"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line on day two, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"tickId":3`) {
		t.Errorf("unexpected rotated line: %s", lines[0])
	}
}

func TestJournal_WriteErrorDoesNotPanic(t *testing.T) {
	// Point the journal at a path that cannot be a directory.
	blocked := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	j := NewJournal(filepath.Join(blocked, "nested"), testLogger())
	defer j.Close()

	j.Append(Trace{TraceID: "a", TickID: 1})
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}
