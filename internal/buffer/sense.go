package buffer

import (
	"errors"
	"sync"
	"time"
)

// DefaultSenseCapacity is the hard upper bound on retained sense events.
const DefaultSenseCapacity = 30

// UnknownApp is reported when no sense event has carried an app name yet.
const UnknownApp = "unknown"

var (
	// ErrMissingType is returned when a sense push lacks its event type.
	ErrMissingType = errors.New("sense event requires a type")
	// ErrMissingTimestamp is returned when a sense push lacks the producer timestamp.
	ErrMissingTimestamp = errors.New("sense event requires a producer timestamp")
)

// SenseType classifies a screen observation.
type SenseType string

const (
	SenseText    SenseType = "text"
	SenseVisual  SenseType = "visual"
	SenseContext SenseType = "context"
)

// SenseMeta carries the capture metadata the sense client attaches to
// every event.
type SenseMeta struct {
	App         string  `json:"app"`
	WindowTitle string  `json:"windowTitle,omitempty"`
	Screen      int     `json:"screen"`
	SSIM        float64 `json:"ssim"`
}

// ImagePayload is an optional binary region attached to a sense event.
type ImagePayload struct {
	Data   []byte `json:"data,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// SenseEvent is one screen-capture-derived observation. Ts is the producer
// clock; ReceivedAt is stamped with the local clock on push. Future producer
// timestamps are accepted as-is.
type SenseEvent struct {
	ID         uint64        `json:"id"`
	Ts         int64         `json:"ts"`
	ReceivedAt int64         `json:"receivedAt"`
	Type       SenseType     `json:"type"`
	OCR        string        `json:"ocr"`
	Meta       SenseMeta     `json:"meta"`
	ROI        *ImagePayload `json:"roi,omitempty"`
	Diff       *ImagePayload `json:"diff,omitempty"`
}

// AppTransition is one hop of the app-history chain.
type AppTransition struct {
	App string `json:"app"`
	Ts  int64  `json:"ts"`
}

// SenseBuffer is a bounded ring of sense events.
type SenseBuffer struct {
	mu      sync.RWMutex
	events  []SenseEvent
	nextID  uint64
	version uint64
	max     int
	now     func() time.Time
}

// NewSenseBuffer creates a sense buffer with the given capacity.
func NewSenseBuffer(capacity int) *SenseBuffer {
	if capacity < 1 {
		capacity = DefaultSenseCapacity
	}
	return &SenseBuffer{
		nextID: 1,
		max:    capacity,
		now:    time.Now,
	}
}

// Push assigns the next id, stamps ReceivedAt, bumps the version and
// truncates from the head when over capacity.
func (b *SenseBuffer) Push(ev SenseEvent) (SenseEvent, error) {
	if ev.Type == "" {
		return SenseEvent{}, ErrMissingType
	}
	if ev.Ts == 0 {
		return SenseEvent{}, ErrMissingTimestamp
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ev.ID = b.nextID
	b.nextID++
	ev.ReceivedAt = b.now().UnixMilli()

	b.events = append(b.events, ev)
	if len(b.events) > b.max {
		b.events = b.events[len(b.events)-b.max:]
	}
	b.version++

	return ev, nil
}

// Query returns events with id > afterID in id order. When metaOnly is set,
// the binary roi/diff data is stripped from the returned copies; the stored
// events keep their payloads.
func (b *SenseBuffer) Query(afterID uint64, metaOnly bool) []SenseEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]SenseEvent, 0, len(b.events))
	for _, ev := range b.events {
		if ev.ID <= afterID {
			continue
		}
		if metaOnly {
			ev = stripImageData(ev)
		}
		out = append(out, ev)
	}
	return out
}

// QueryByTime returns events with producer ts >= sinceMs in id order.
func (b *SenseBuffer) QueryByTime(sinceMs int64) []SenseEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]SenseEvent, 0, len(b.events))
	for _, ev := range b.events {
		if ev.Ts >= sinceMs {
			out = append(out, ev)
		}
	}
	return out
}

// Latest returns the newest event, if any.
func (b *SenseBuffer) Latest() (SenseEvent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return SenseEvent{}, false
	}
	return b.events[len(b.events)-1], true
}

// LatestApp returns the most recent meta.app, or "unknown".
func (b *SenseBuffer) LatestApp() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i := len(b.events) - 1; i >= 0; i-- {
		if app := b.events[i].Meta.App; app != "" {
			return app
		}
	}
	return UnknownApp
}

// AppHistory returns the chronologically ordered chain of distinct adjacent
// app values since the given producer timestamp. Non-adjacent repeats are
// kept; only immediate duplicates collapse.
func (b *SenseBuffer) AppHistory(since int64) []AppTransition {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []AppTransition
	for _, ev := range b.events {
		if ev.Ts < since {
			continue
		}
		app := ev.Meta.App
		if app == "" {
			continue
		}
		if len(out) > 0 && out[len(out)-1].App == app {
			continue
		}
		out = append(out, AppTransition{App: app, Ts: ev.Ts})
	}
	return out
}

// Size returns the number of retained events.
func (b *SenseBuffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

// Version returns the monotone push counter.
func (b *SenseBuffer) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

func stripImageData(ev SenseEvent) SenseEvent {
	if ev.ROI != nil {
		roi := *ev.ROI
		roi.Data = nil
		ev.ROI = &roi
	}
	if ev.Diff != nil {
		diff := *ev.Diff
		diff.Data = nil
		ev.Diff = &diff
	}
	return ev
}
