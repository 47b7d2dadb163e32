package telemetry

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/sinain/sinain-core/internal/common/logger"
)

var journalJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Journal appends one JSON line per tick trace to a daily file. Files rotate
// on UTC date change. Write failures are logged, never surfaced to the tick.
type Journal struct {
	mu      sync.Mutex
	dir     string
	file    *os.File
	curDate string
	now     func() time.Time
	log     *logger.Logger
}

// NewJournal creates a journal writing under dir. The directory is created
// lazily on first append. An empty dir disables the journal.
func NewJournal(dir string, log *logger.Logger) *Journal {
	return &Journal{dir: dir, now: time.Now, log: log}
}

// Append writes tr as one line to the current day's file.
func (j *Journal) Append(tr Trace) {
	if j.dir == "" {
		return
	}
	line, err := journalJSON.Marshal(tr)
	if err != nil {
		j.log.WithError(err).Warn("Failed to marshal trace for journal")
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	date := j.now().UTC().Format("2006-01-02")
	if j.file == nil || date != j.curDate {
		if err := j.rotate(date); err != nil {
			j.log.WithError(err).Warn("Failed to open trace journal file")
			return
		}
	}

	if _, err := j.file.Write(append(line, '\n')); err != nil {
		j.log.WithError(err).Warn("Failed to append trace to journal")
	}
}

// rotate closes the current stream and opens the file for date.
// Caller holds j.mu.
func (j *Journal) rotate(date string) error {
	if j.file != nil {
		_ = j.file.Close()
		j.file = nil
	}

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(j.dir, date+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	j.file = f
	j.curDate = date
	return nil
}

// Close flushes and closes the current file stream.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
