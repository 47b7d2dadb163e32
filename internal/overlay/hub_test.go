package overlay

import (
	"testing"
	"time"

	"github.com/sinain/sinain-core/internal/analyzer"
	"github.com/sinain/sinain-core/internal/buffer"
	"github.com/sinain/sinain-core/internal/common/logger"
)

type fakeCapture struct {
	audio, screen bool
	device        string
	switched      int
}

func (f *fakeCapture) AudioActive() bool  { return f.audio }
func (f *fakeCapture) ScreenActive() bool { return f.screen }
func (f *fakeCapture) ToggleAudio() bool  { f.audio = !f.audio; return f.audio }
func (f *fakeCapture) ToggleScreen() bool { f.screen = !f.screen; return f.screen }
func (f *fakeCapture) SwitchDevice() string {
	f.switched++
	return f.device
}

type fakeSink struct{ messages []string }

func (f *fakeSink) Send(message string) { f.messages = append(f.messages, message) }

type fakeProfiling struct{ snapshots []map[string]interface{} }

func (f *fakeProfiling) ReportOverlay(s map[string]interface{}) { f.snapshots = append(f.snapshots, s) }

type fakeStatus struct{ st analyzer.Status }

func (f *fakeStatus) Status() analyzer.Status { return f.st }

func testLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	return log
}

func newTestHub() *Hub {
	return NewHub(&fakeCapture{}, &fakeSink{}, &fakeProfiling{}, &fakeStatus{}, testLogger())
}

// drain empties a client's send buffer into decoded envelopes.
func drain(t *testing.T, c *Client) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for {
		select {
		case data := <-c.send:
			var m map[string]interface{}
			if err := json.Unmarshal(data, &m); err != nil {
				t.Fatalf("bad outbound frame %s: %v", data, err)
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func feedOp(id uint64) broadcastOp {
	msg := NewFeedMessage(buffer.FeedItem{ID: id, Ts: int64(id), Source: buffer.SourceAudio, Text: "t"})
	data, _ := json.Marshal(msg)
	return broadcastOp{data: data, feed: &msg}
}

func spawnOp(taskID, status string) broadcastOp {
	task := SpawnTask{Type: TypeSpawnTask, TaskID: taskID, Label: "job", Status: status, StartedAt: 1}
	data, _ := json.Marshal(task)
	return broadcastOp{data: data, task: &task}
}

func spawnDoneOp(taskID, status string, completedAt int64) broadcastOp {
	task := SpawnTask{Type: TypeSpawnTask, TaskID: taskID, Label: "job", Status: status,
		StartedAt: 1, CompletedAt: completedAt}
	data, _ := json.Marshal(task)
	return broadcastOp{data: data, task: &task}
}

func TestHub_LateJoinReplaysLastTwenty(t *testing.T) {
	h := newTestHub()
	for id := uint64(1); id <= 25; id++ {
		h.dispatch(feedOp(id))
	}

	c := NewClient("late", nil, h, testLogger())
	h.accept(c)

	msgs := drain(t, c)
	if msgs[0]["type"] != TypeStatus {
		t.Fatalf("first replayed frame must be status, got %v", msgs[0]["type"])
	}
	feeds := msgs[1:]
	if len(feeds) != replayCap {
		t.Fatalf("expected %d replayed feed frames, got %d", replayCap, len(feeds))
	}
	for i, m := range feeds {
		want := float64(6 + i)
		if m["type"] != TypeFeed || m["id"] != want {
			t.Errorf("frame %d: expected feed id %v, got %v", i, want, m["id"])
		}
	}
}

func TestHub_SpawnTaskBufferAndTTL(t *testing.T) {
	h := newTestHub()
	base := time.UnixMilli(1_000_000)
	h.now = func() time.Time { return base }

	h.dispatch(spawnOp("a", "running"))
	h.dispatch(spawnOp("b", "completed"))
	h.dispatch(spawnOp("t", "timeout"))
	h.dispatch(spawnOp("a", "running")) // upsert, not a duplicate

	base = base.Add(spawnTaskTTL + time.Second)
	h.dispatch(feedOp(1)) // any dispatch prunes

	c := NewClient("c", nil, h, testLogger())
	h.accept(c)
	msgs := drain(t, c)

	var tasks []map[string]interface{}
	for _, m := range msgs {
		if m["type"] == TypeSpawnTask {
			tasks = append(tasks, m)
		}
	}
	if len(tasks) != 1 || tasks[0]["taskId"] != "a" {
		t.Errorf("expected only the running task to survive the TTL, got %v", tasks)
	}
}

func TestHub_TTLKeyedOnCompletionStamp(t *testing.T) {
	h := newTestHub()
	base := time.UnixMilli(1_000_000)
	h.now = func() time.Time { return base }

	// Finished longer than the TTL before the hub heard about it: the task is
	// already expired on arrival and must never reach a late joiner.
	stale := base.Add(-(spawnTaskTTL + time.Second)).UnixMilli()
	h.dispatch(spawnDoneOp("stale", "completed", stale))
	h.dispatch(spawnDoneOp("fresh", "completed", base.UnixMilli()))

	c := NewClient("c", nil, h, testLogger())
	h.accept(c)

	var ids []interface{}
	for _, m := range drain(t, c) {
		if m["type"] == TypeSpawnTask {
			ids = append(ids, m["taskId"])
		}
	}
	if len(ids) != 1 || ids[0] != "fresh" {
		t.Errorf("eviction must follow the completion stamp, got %v", ids)
	}
}

func TestSpawnTask_TerminalStates(t *testing.T) {
	for _, status := range []string{"completed", "failed", "timeout"} {
		if !(SpawnTask{Status: status}).IsTerminal() {
			t.Errorf("%s must be terminal", status)
		}
	}
	for _, status := range []string{"queued", "running", ""} {
		if (SpawnTask{Status: status}).IsTerminal() {
			t.Errorf("%s must not be terminal", status)
		}
	}
}

func TestHub_TerminalTaskSurvivesUntilTTL(t *testing.T) {
	h := newTestHub()
	base := time.UnixMilli(1_000_000)
	h.now = func() time.Time { return base }

	h.dispatch(spawnOp("b", "completed"))
	base = base.Add(spawnTaskTTL / 2)
	h.dispatch(feedOp(1))

	c := NewClient("c", nil, h, testLogger())
	h.accept(c)
	for _, m := range drain(t, c) {
		if m["type"] == TypeSpawnTask && m["taskId"] == "b" {
			return
		}
	}
	t.Error("terminal task inside TTL must still be replayed")
}

func TestHub_HeartbeatClosesStaleClients(t *testing.T) {
	h := newTestHub()
	stale := NewClient("stale", nil, h, testLogger())
	fresh := NewClient("fresh", nil, h, testLogger())
	h.accept(stale)
	h.accept(fresh)
	drain(t, stale)
	drain(t, fresh)

	h.heartbeat() // everyone marked unproven, pinged
	fresh.alive.Store(true)
	h.heartbeat()

	if h.clients[stale] {
		t.Error("stale client must be removed")
	}
	if stale.closeCode.Load() != closeStale {
		t.Errorf("stale client close code = %d, want %d", stale.closeCode.Load(), closeStale)
	}
	closed := false
	for i := 0; i < 4; i++ {
		if _, open := <-stale.send; !open {
			closed = true
			break
		}
	}
	if !closed {
		t.Error("stale client send channel must be closed")
	}
	if !h.clients[fresh] {
		t.Error("fresh client must survive")
	}
	msgs := drain(t, fresh)
	pings := 0
	for _, m := range msgs {
		if m["type"] == TypePing {
			pings++
		}
	}
	if pings != 2 {
		t.Errorf("fresh client must receive an app-level ping per round, got %d", pings)
	}
}

func TestHub_InboundRouting(t *testing.T) {
	capture := &fakeCapture{device: "headset"}
	sink := &fakeSink{}
	prof := &fakeProfiling{}
	h := NewHub(capture, sink, prof, &fakeStatus{}, testLogger())
	c := NewClient("c", nil, h, testLogger())

	h.handleInbound(c, &inbound{Type: TypeMessage, Text: "look into this"})
	if len(sink.messages) != 1 || sink.messages[0] != "look into this" {
		t.Errorf("message not routed to sink: %v", sink.messages)
	}

	h.handleInbound(c, &inbound{Type: TypeCommand, Action: ActionToggleAudio})
	if !capture.audio {
		t.Error("toggle_audio must flip the capture state")
	}
	h.handleInbound(c, &inbound{Type: TypeCommand, Action: ActionSwitchDevice})
	if capture.switched != 1 {
		t.Error("switch_device must reach the capture controller")
	}
	h.handleInbound(c, &inbound{Type: TypeCommand, Action: "self_destruct"})

	raw := []byte(`{"type":"profiling","rssMb":88.5,"uptimeS":120,"ts":5}`)
	h.handleInbound(c, &inbound{Type: TypeProfiling, Raw: raw})
	if len(prof.snapshots) != 1 || prof.snapshots[0]["rssMb"] != 88.5 {
		t.Errorf("profiling snapshot not stored: %v", prof.snapshots)
	}
	if _, hasType := prof.snapshots[0]["type"]; hasType {
		t.Error("type tag must be stripped from the snapshot")
	}

	h.handleInbound(c, &inbound{Type: "mystery"})

	if got := len(h.broadcast); got == 0 {
		t.Error("commands must trigger a status broadcast")
	}
}

func TestHub_StatusMessage(t *testing.T) {
	capture := &fakeCapture{audio: true}
	status := &fakeStatus{st: analyzer.Status{HUD: "Coding", Digest: "d", TickID: 3}}
	h := NewHub(capture, nil, nil, status, testLogger())

	msg := h.statusMessage()
	if msg.Audio != "active" || msg.Screen != "off" {
		t.Errorf("unexpected capture state: %+v", msg)
	}
	if msg.HUD != "Coding" || msg.TickID != 3 {
		t.Errorf("tick status not merged: %+v", msg)
	}
	if msg.Connection != "disconnected" {
		t.Errorf("no clients: connection = %q, want disconnected", msg.Connection)
	}

	c := NewClient("c", nil, h, testLogger())
	h.accept(c)
	if h.statusMessage().Connection != "connected" {
		t.Error("connection must flip once a client is attached")
	}
	snapshot := drain(t, c)[0]
	if snapshot["connection"] != "connected" {
		t.Errorf("joining client's snapshot shows %q", snapshot["connection"])
	}

	h.drop(c)
	if h.statusMessage().Connection != "disconnected" {
		t.Error("connection must flip back when the last client leaves")
	}
}
