package ingress

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sinain/sinain-core/internal/analyzer"
	"github.com/sinain/sinain-core/internal/buffer"
	"github.com/sinain/sinain-core/internal/capture"
	"github.com/sinain/sinain-core/internal/common/logger"
	"github.com/sinain/sinain-core/internal/escalation"
	"github.com/sinain/sinain-core/internal/telemetry"
)

type fakeEngine struct {
	notified int
	st       analyzer.Status
}

func (f *fakeEngine) Notify()                 { f.notified++ }
func (f *fakeEngine) Status() analyzer.Status { return f.st }

type fakeEscalator struct {
	mode escalation.Mode
}

func (f *fakeEscalator) Mode() escalation.Mode        { return f.mode }
func (f *fakeEscalator) SetMode(mode escalation.Mode) { f.mode = mode }
func (f *fakeEscalator) Stats() escalation.Stats      { return escalation.Stats{Mode: f.mode} }

type testDeps struct {
	server    *Server
	feed      *buffer.FeedBuffer
	sense     *buffer.SenseBuffer
	engine    *fakeEngine
	escalator *fakeEscalator
	profiler  *telemetry.Profiler
}

func newTestServer(t *testing.T) *testDeps {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)

	d := &testDeps{
		feed:      buffer.NewFeedBuffer(100),
		sense:     buffer.NewSenseBuffer(30),
		engine:    &fakeEngine{},
		escalator: &fakeEscalator{mode: escalation.ModeSelective},
		profiler:  telemetry.NewProfiler(log),
	}
	ctrl := capture.NewController(3, "built-in", "", d.feed, nil, d.engine, log)
	d.server = NewServer(d.feed, d.sense, ctrl, d.profiler, telemetry.NewTracer(),
		d.engine, d.escalator, nil, nil, log)
	return d
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if raw, ok := body.([]byte); ok {
		reader = bytes.NewReader(raw)
	} else {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func doGet(t *testing.T, h http.Handler, path string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad response %s: %v", w.Body.String(), err)
	}
	return w.Code, out
}

func TestSensePost_StoresAndNotifies(t *testing.T) {
	d := newTestServer(t)

	w := doJSON(t, d.server.Router(), http.MethodPost, "/sense", map[string]interface{}{
		"type": "text",
		"ts":   1000,
		"ocr":  "compiling project",
		"meta": map[string]interface{}{"app": "Terminal"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if d.sense.Size() != 1 {
		t.Error("event must land in the sense buffer")
	}
	if d.engine.notified != 1 {
		t.Error("engine must be woken after ingest")
	}
}

func TestSensePost_RejectsInvalid(t *testing.T) {
	d := newTestServer(t)

	w := doJSON(t, d.server.Router(), http.MethodPost, "/sense",
		map[string]interface{}{"ts": 1000, "ocr": "no type"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing type: status = %d", w.Code)
	}

	w = doJSON(t, d.server.Router(), http.MethodPost, "/sense",
		map[string]interface{}{"type": "text", "ocr": "no ts"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing ts: status = %d", w.Code)
	}
	if d.engine.notified != 0 {
		t.Error("rejected events must not wake the engine")
	}
}

func TestSensePost_RejectsOversizedBody(t *testing.T) {
	d := newTestServer(t)

	huge := fmt.Sprintf(`{"type":"text","ts":1,"ocr":%q}`, strings.Repeat("x", 3<<20))
	w := doJSON(t, d.server.Router(), http.MethodPost, "/sense", []byte(huge))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
	if d.sense.Size() != 0 {
		t.Error("oversized event must be dropped")
	}
}

func TestSenseGet_AfterAndMetaOnly(t *testing.T) {
	d := newTestServer(t)
	for i := 1; i <= 3; i++ {
		_, err := d.sense.Push(buffer.SenseEvent{
			Type: buffer.SenseText,
			Ts:   int64(i),
			OCR:  "x",
			ROI:  &buffer.ImagePayload{Data: []byte{1, 2, 3}, Width: 10},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	code, out := doGet(t, d.server.Router(), "/sense?after=1")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	events := out["events"].([]interface{})
	if len(events) != 2 {
		t.Fatalf("after=1 must return 2 events, got %d", len(events))
	}
	roi := events[0].(map[string]interface{})["roi"].(map[string]interface{})
	if roi["data"] == nil {
		t.Error("full query must keep image data")
	}

	_, out = doGet(t, d.server.Router(), "/sense?after=0&meta_only=true")
	events = out["events"].([]interface{})
	roi = events[0].(map[string]interface{})["roi"].(map[string]interface{})
	if roi["data"] != nil {
		t.Error("meta_only must strip image data")
	}
	if roi["width"] != float64(10) {
		t.Error("meta_only must keep image dimensions")
	}
}

func TestFeedPostAndGet(t *testing.T) {
	d := newTestServer(t)

	w := doJSON(t, d.server.Router(), http.MethodPost, "/feed",
		map[string]interface{}{"source": "system", "text": "manual note"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if d.engine.notified != 1 {
		t.Error("feed injection must wake the engine")
	}

	w = doJSON(t, d.server.Router(), http.MethodPost, "/feed",
		map[string]interface{}{"text": "missing source"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing source: status = %d", w.Code)
	}

	if _, err := d.feed.Push(buffer.FeedItem{Source: buffer.SourceSystem, Text: "[PERIODIC] sweep"}); err != nil {
		t.Fatal(err)
	}
	code, out := doGet(t, d.server.Router(), "/feed?after=0")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	items := out["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("periodic items must stay hidden, got %d items", len(items))
	}
	if items[0].(map[string]interface{})["text"] != "manual note" {
		t.Errorf("unexpected item: %v", items[0])
	}
}

func TestAgentConfig_SwitchesMode(t *testing.T) {
	d := newTestServer(t)

	w := doJSON(t, d.server.Router(), http.MethodPost, "/agent/config",
		map[string]interface{}{"escalationMode": "rich"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, escalation.ModeRich, d.escalator.mode)

	w = doJSON(t, d.server.Router(), http.MethodPost, "/agent/config",
		map[string]interface{}{"escalationMode": "turbo"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, escalation.ModeRich, d.escalator.mode, "invalid mode must not change state")
}

func TestProfilingSense_Recorded(t *testing.T) {
	d := newTestServer(t)

	w := doJSON(t, d.server.Router(), http.MethodPost, "/profiling/sense",
		map[string]interface{}{"rssMb": 120.5, "fps": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	snap := d.profiler.Snapshot()
	if snap.ScreenClient == nil || snap.ScreenClient["rssMb"] != 120.5 {
		t.Errorf("screen client snapshot not stored: %v", snap.ScreenClient)
	}
}

func TestHealth_AggregatesSubsystems(t *testing.T) {
	d := newTestServer(t)
	d.engine.st = analyzer.Status{HUD: "Coding", TickID: 7}

	code, out := doGet(t, d.server.Router(), "/health")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", out["status"])

	tick := out["tick"].(map[string]interface{})
	assert.Equal(t, "Coding", tick["hud"])
	assert.Equal(t, float64(7), tick["tickId"])

	esc := out["escalation"].(map[string]interface{})
	assert.Equal(t, "selective", esc["mode"])

	capStats := out["capture"].(map[string]interface{})
	assert.Equal(t, true, capStats["audioActive"])
}

func TestTraces_Endpoint(t *testing.T) {
	d := newTestServer(t)

	code, out := doGet(t, d.server.Router(), "/traces?after=0&limit=10")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if _, ok := out["stats"]; !ok {
		t.Error("traces response must carry stats")
	}
}
