package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sinain/sinain-core/internal/buffer"
	"github.com/sinain/sinain-core/internal/common/logger"
)

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) Notify() { c.n.Add(1) }

func testLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	return log
}

func newController(maxPending int) (*Controller, *buffer.FeedBuffer, *countingNotifier) {
	feed := buffer.NewFeedBuffer(100)
	n := &countingNotifier{}
	return NewController(maxPending, "built-in", "headset", feed, nil, n, testLogger()), feed, n
}

func TestController_IngestTranscript(t *testing.T) {
	c, feed, n := newController(3)

	item, err := c.IngestTranscript("hello world")
	if err != nil {
		t.Fatalf("IngestTranscript failed: %v", err)
	}
	if item.Source != buffer.SourceAudio || item.ID != 1 {
		t.Errorf("unexpected item: %+v", item)
	}
	if len(feed.Query(0)) != 1 {
		t.Error("transcript must land in the feed")
	}
	if n.n.Load() != 1 {
		t.Error("engine must be notified")
	}
	if c.Stats().IngestedChunks != 1 {
		t.Errorf("unexpected stats: %+v", c.Stats())
	}
}

func TestController_MutedAudioDrops(t *testing.T) {
	c, feed, _ := newController(3)
	c.ToggleAudio()

	if _, err := c.IngestTranscript("x"); !errors.Is(err, ErrAudioMuted) {
		t.Errorf("expected ErrAudioMuted, got %v", err)
	}
	if len(feed.Query(0)) != 0 {
		t.Error("muted transcript must not reach the feed")
	}
}

func TestController_Toggles(t *testing.T) {
	c, _, _ := newController(3)

	if !c.AudioActive() || !c.ScreenActive() {
		t.Fatal("captures must start active")
	}
	if c.ToggleAudio() {
		t.Error("first audio toggle must deactivate")
	}
	if c.ToggleScreen() {
		t.Error("first screen toggle must deactivate")
	}
	if !c.ToggleAudio() || !c.ToggleScreen() {
		t.Error("second toggle must reactivate")
	}
}

func TestController_SwitchDeviceRotates(t *testing.T) {
	c, _, _ := newController(3)

	if c.Device() != "built-in" {
		t.Errorf("unexpected initial device %q", c.Device())
	}
	if got := c.SwitchDevice(); got != "headset" {
		t.Errorf("expected headset, got %q", got)
	}
	if got := c.SwitchDevice(); got != "built-in" {
		t.Errorf("expected rotation back to built-in, got %q", got)
	}
}

func TestController_SlotCapDropsOverflow(t *testing.T) {
	c, _, _ := newController(2)

	// Saturate the gate manually, then submit one more chunk.
	c.pending.Store(2)
	if _, err := c.IngestTranscript("overflow"); !errors.Is(err, ErrSlotsExhausted) {
		t.Fatalf("expected ErrSlotsExhausted, got %v", err)
	}
	if c.Stats().DroppedChunks != 1 {
		t.Errorf("drop counter = %d, want 1", c.Stats().DroppedChunks)
	}

	c.pending.Store(0)
	if _, err := c.IngestTranscript("ok"); err != nil {
		t.Errorf("gate must admit once slots free up: %v", err)
	}
}

func TestController_ConcurrentIngestIsSafe(t *testing.T) {
	c, feed, _ := newController(100)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.IngestTranscript("chunk")
		}()
	}
	wg.Wait()

	if got := len(feed.Query(0)); got != 20 {
		t.Errorf("expected 20 items, got %d", got)
	}
}
