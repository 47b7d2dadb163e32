// Package buffer provides the bounded, monotonically-versioned in-memory
// stores that mediate between ingress paths and consumers. Entries are owned
// by the buffer; readers always receive value copies.
package buffer

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// DefaultFeedCapacity is the hard upper bound on retained feed items.
const DefaultFeedCapacity = 100

// PeriodicPrefix marks feed items that are hidden from overlay-directed queries.
const PeriodicPrefix = "[PERIODIC]"

// ErrMissingSource is returned when a feed push lacks its source tag.
var ErrMissingSource = errors.New("feed item requires a source")

// Source identifies the producer of a feed item.
type Source string

const (
	SourceAudio     Source = "audio"
	SourceSense     Source = "sense"
	SourceAgent     Source = "agent"
	SourceAssistant Source = "assistant"
	SourceSystem    Source = "system"
)

// Channel routes a feed item to an overlay lane.
type Channel string

const (
	ChannelStream Channel = "stream"
	ChannelAgent  Channel = "agent"
)

// Priority ranks a feed item for overlay display.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// FeedItem is one entry of the live feed. The ID is assigned by the buffer,
// never reused and never mutated after creation.
type FeedItem struct {
	ID       uint64   `json:"id"`
	Ts       int64    `json:"ts"`
	Source   Source   `json:"source"`
	Channel  Channel  `json:"channel"`
	Priority Priority `json:"priority"`
	Text     string   `json:"text"`
}

// FeedBuffer is a bounded ring of feed items.
type FeedBuffer struct {
	mu      sync.RWMutex
	items   []FeedItem
	nextID  uint64
	version uint64
	max     int
	now     func() time.Time
}

// NewFeedBuffer creates a feed buffer with the given capacity.
// Capacity values below 1 fall back to the default.
func NewFeedBuffer(capacity int) *FeedBuffer {
	if capacity < 1 {
		capacity = DefaultFeedCapacity
	}
	return &FeedBuffer{
		nextID: 1,
		max:    capacity,
		now:    time.Now,
	}
}

// Push assigns the next id, stamps the timestamp when absent, bumps the
// version and truncates from the head when over capacity. The stored item
// is returned by value.
func (b *FeedBuffer) Push(item FeedItem) (FeedItem, error) {
	if item.Source == "" {
		return FeedItem{}, ErrMissingSource
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	item.ID = b.nextID
	b.nextID++
	if item.Ts == 0 {
		item.Ts = b.now().UnixMilli()
	}
	if item.Channel == "" {
		item.Channel = ChannelStream
	}
	if item.Priority == "" {
		item.Priority = PriorityNormal
	}

	b.items = append(b.items, item)
	if len(b.items) > b.max {
		b.items = b.items[len(b.items)-b.max:]
	}
	b.version++

	return item, nil
}

// Query returns all items with id > afterID in id order.
func (b *FeedBuffer) Query(afterID uint64) []FeedItem {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]FeedItem, 0, len(b.items))
	for _, it := range b.items {
		if it.ID > afterID {
			out = append(out, it)
		}
	}
	return out
}

// QueryVisible mirrors Query but skips periodic housekeeping items, which
// the overlay never displays.
func (b *FeedBuffer) QueryVisible(afterID uint64) []FeedItem {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]FeedItem, 0, len(b.items))
	for _, it := range b.items {
		if it.ID <= afterID {
			continue
		}
		if strings.HasPrefix(it.Text, PeriodicPrefix) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// QueryByTime returns items with ts >= sinceMs in id order.
func (b *FeedBuffer) QueryByTime(sinceMs int64) []FeedItem {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]FeedItem, 0, len(b.items))
	for _, it := range b.items {
		if it.Ts >= sinceMs {
			out = append(out, it)
		}
	}
	return out
}

// QueryBySource returns items from the given source with ts >= sinceMs.
func (b *FeedBuffer) QueryBySource(src Source, sinceMs int64) []FeedItem {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]FeedItem, 0, len(b.items))
	for _, it := range b.items {
		if it.Source == src && it.Ts >= sinceMs {
			out = append(out, it)
		}
	}
	return out
}

// Latest returns the newest item, if any.
func (b *FeedBuffer) Latest() (FeedItem, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.items) == 0 {
		return FeedItem{}, false
	}
	return b.items[len(b.items)-1], true
}

// Size returns the number of retained items.
func (b *FeedBuffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// Version returns the monotone push counter. It never decreases.
func (b *FeedBuffer) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}
