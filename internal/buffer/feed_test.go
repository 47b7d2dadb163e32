package buffer

import (
	"fmt"
	"testing"
)

func TestFeedBuffer_PushAssignsMonotonicIDs(t *testing.T) {
	b := NewFeedBuffer(10)

	for i := 0; i < 5; i++ {
		it, err := b.Push(FeedItem{Source: SourceSystem, Text: fmt.Sprintf("item %d", i)})
		if err != nil {
			t.Fatalf("Push failed: %v", err)
		}
		if it.ID != uint64(i+1) {
			t.Errorf("expected id %d, got %d", i+1, it.ID)
		}
	}

	items := b.Query(0)
	if len(items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(items))
	}
	for i, it := range items {
		if it.ID != uint64(i+1) {
			t.Errorf("ids not strictly increasing: index %d has id %d", i, it.ID)
		}
	}
}

func TestFeedBuffer_PushRequiresSource(t *testing.T) {
	b := NewFeedBuffer(10)
	if _, err := b.Push(FeedItem{Text: "no source"}); err != ErrMissingSource {
		t.Errorf("expected ErrMissingSource, got %v", err)
	}
	if b.Size() != 0 {
		t.Errorf("rejected push must not change size, got %d", b.Size())
	}
	if b.Version() != 0 {
		t.Errorf("rejected push must not bump version, got %d", b.Version())
	}
}

func TestFeedBuffer_CapacityPrunesOldestOnly(t *testing.T) {
	const cap = 10
	const n = 25
	b := NewFeedBuffer(cap)

	for i := 0; i < n; i++ {
		if _, err := b.Push(FeedItem{Source: SourceAudio, Text: "x"}); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	if b.Size() != cap {
		t.Fatalf("expected size %d, got %d", cap, b.Size())
	}
	items := b.Query(0)
	if items[0].ID != n-cap+1 {
		t.Errorf("expected oldest retained id %d, got %d", n-cap+1, items[0].ID)
	}
	if items[len(items)-1].ID != n {
		t.Errorf("expected newest id %d, got %d", n, items[len(items)-1].ID)
	}
	if b.Version() != n {
		t.Errorf("expected version %d, got %d", n, b.Version())
	}
}

func TestFeedBuffer_QueryAfter(t *testing.T) {
	b := NewFeedBuffer(100)
	for i := 0; i < 10; i++ {
		_, _ = b.Push(FeedItem{Source: SourceSystem, Text: "x"})
	}

	items := b.Query(7)
	if len(items) != 3 {
		t.Fatalf("expected 3 items after id 7, got %d", len(items))
	}
	for i, it := range items {
		if it.ID != uint64(8+i) {
			t.Errorf("expected id %d, got %d", 8+i, it.ID)
		}
	}

	if got := b.Query(10); len(got) != 0 {
		t.Errorf("expected empty result past newest id, got %d items", len(got))
	}
}

func TestFeedBuffer_QueryVisibleSkipsPeriodic(t *testing.T) {
	b := NewFeedBuffer(100)
	_, _ = b.Push(FeedItem{Source: SourceSystem, Text: "visible one"})
	_, _ = b.Push(FeedItem{Source: SourceSystem, Text: "[PERIODIC] heartbeat"})
	_, _ = b.Push(FeedItem{Source: SourceSystem, Text: "visible two"})

	items := b.QueryVisible(0)
	if len(items) != 2 {
		t.Fatalf("expected 2 visible items, got %d", len(items))
	}
	for _, it := range items {
		if it.Text == "[PERIODIC] heartbeat" {
			t.Error("periodic item leaked into overlay-directed query")
		}
	}

	// The full query still sees everything.
	if got := b.Query(0); len(got) != 3 {
		t.Errorf("expected 3 items in raw query, got %d", len(got))
	}
}

func TestFeedBuffer_QueryBySourceAndTime(t *testing.T) {
	b := NewFeedBuffer(100)
	_, _ = b.Push(FeedItem{Source: SourceAudio, Ts: 100, Text: "a"})
	_, _ = b.Push(FeedItem{Source: SourceAgent, Ts: 200, Text: "b"})
	_, _ = b.Push(FeedItem{Source: SourceAudio, Ts: 300, Text: "c"})

	audio := b.QueryBySource(SourceAudio, 150)
	if len(audio) != 1 || audio[0].Text != "c" {
		t.Errorf("expected only the late audio item, got %+v", audio)
	}

	byTime := b.QueryByTime(200)
	if len(byTime) != 2 {
		t.Errorf("expected 2 items since ts 200, got %d", len(byTime))
	}
}

func TestFeedBuffer_DefaultsAndLatest(t *testing.T) {
	b := NewFeedBuffer(10)

	if _, ok := b.Latest(); ok {
		t.Error("expected no latest on empty buffer")
	}

	it, err := b.Push(FeedItem{Source: SourceAgent, Text: "hello"})
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if it.Channel != ChannelStream {
		t.Errorf("expected default channel stream, got %s", it.Channel)
	}
	if it.Priority != PriorityNormal {
		t.Errorf("expected default priority normal, got %s", it.Priority)
	}
	if it.Ts == 0 {
		t.Error("expected timestamp to be stamped")
	}

	latest, ok := b.Latest()
	if !ok || latest.ID != it.ID {
		t.Errorf("expected latest id %d, got %+v ok=%v", it.ID, latest, ok)
	}
}
