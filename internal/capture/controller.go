// Package capture tracks the state of the external capture collaborators
// (microphone transcriber, screen client) and gates transcription ingest.
package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sinain/sinain-core/internal/buffer"
	"github.com/sinain/sinain-core/internal/common/logger"
	"github.com/sinain/sinain-core/internal/events"
	eventbus "github.com/sinain/sinain-core/internal/events/bus"
)

// ErrSlotsExhausted is returned when the pending-transcription cap is hit;
// the chunk is dropped, never queued.
var ErrSlotsExhausted = errors.New("transcription slots exhausted")

// ErrAudioMuted is returned when a transcript arrives while capture is off.
var ErrAudioMuted = errors.New("audio capture is muted")

// Notifier wakes the tick engine after new events.
type Notifier interface {
	Notify()
}

// Stats is the controller's state snapshot.
type Stats struct {
	AudioActive    bool   `json:"audioActive"`
	ScreenActive   bool   `json:"screenActive"`
	Device         string `json:"device"`
	DroppedChunks  int64  `json:"droppedChunks"`
	IngestedChunks int64  `json:"ingestedChunks"`
}

// Controller owns the capture flags, the audio device rotation and the
// bounded transcription gate.
type Controller struct {
	audio  atomic.Bool
	screen atomic.Bool

	pending    atomic.Int32
	maxPending int32
	dropped    atomic.Int64
	ingested   atomic.Int64

	mu        sync.Mutex
	primary   string
	alternate string
	current   string

	feed     *buffer.FeedBuffer
	bus      eventbus.EventBus
	notifier Notifier
	log      *logger.Logger
}

// NewController creates a controller with both captures active.
func NewController(maxPending int, primary, alternate string, feed *buffer.FeedBuffer,
	bus eventbus.EventBus, notifier Notifier, log *logger.Logger) *Controller {
	if maxPending <= 0 {
		maxPending = 3
	}
	c := &Controller{
		maxPending: int32(maxPending),
		primary:    primary,
		alternate:  alternate,
		current:    primary,
		feed:       feed,
		bus:        bus,
		notifier:   notifier,
		log:        log,
	}
	c.audio.Store(true)
	c.screen.Store(true)
	return c
}

// AudioActive reports whether audio capture is on.
func (c *Controller) AudioActive() bool { return c.audio.Load() }

// ScreenActive reports whether screen capture is on.
func (c *Controller) ScreenActive() bool { return c.screen.Load() }

// ToggleAudio flips audio capture and returns the new state.
func (c *Controller) ToggleAudio() bool {
	next := !c.audio.Load()
	c.audio.Store(next)
	return next
}

// ToggleScreen flips screen capture and returns the new state.
func (c *Controller) ToggleScreen() bool {
	next := !c.screen.Load()
	c.screen.Store(next)
	return next
}

// SwitchDevice rotates between the primary and alternate audio device and
// returns the now-current one.
func (c *Controller) SwitchDevice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.alternate == "" {
		return c.current
	}
	if c.current == c.primary {
		c.current = c.alternate
	} else {
		c.current = c.primary
	}
	return c.current
}

// Device returns the current audio device.
func (c *Controller) Device() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// IngestTranscript pushes one transcribed chunk into the feed. Muted audio
// and an exhausted slot cap both drop the chunk.
func (c *Controller) IngestTranscript(text string) (buffer.FeedItem, error) {
	if !c.audio.Load() {
		return buffer.FeedItem{}, ErrAudioMuted
	}
	if c.pending.Add(1) > c.maxPending {
		c.pending.Add(-1)
		c.dropped.Add(1)
		c.log.Warn("Transcription slots exhausted, dropping chunk",
			zap.Int64("dropped_total", c.dropped.Load()))
		return buffer.FeedItem{}, ErrSlotsExhausted
	}
	defer c.pending.Add(-1)

	item, err := c.feed.Push(buffer.FeedItem{
		Source: buffer.SourceAudio,
		Text:   text,
	})
	if err != nil {
		return buffer.FeedItem{}, err
	}
	c.ingested.Add(1)

	if c.bus != nil {
		if pubErr := c.bus.Publish(context.Background(), events.FeedItemPushed,
			eventbus.NewEvent(events.FeedItemPushed, "capture", item)); pubErr != nil {
			c.log.WithError(pubErr).Warn("Failed to publish transcript event")
		}
	}
	if c.notifier != nil {
		c.notifier.Notify()
	}
	return item, nil
}

// Stats returns a state snapshot for /health.
func (c *Controller) Stats() Stats {
	return Stats{
		AudioActive:    c.audio.Load(),
		ScreenActive:   c.screen.Load(),
		Device:         c.Device(),
		DroppedChunks:  c.dropped.Load(),
		IngestedChunks: c.ingested.Load(),
	}
}
