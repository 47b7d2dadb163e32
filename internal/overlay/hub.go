package overlay

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sinain/sinain-core/internal/analyzer"
	"github.com/sinain/sinain-core/internal/buffer"
	"github.com/sinain/sinain-core/internal/common/logger"
)

const (
	// replayCap is how many feed messages a late joiner receives.
	replayCap = 20

	// spawnTaskTTL is how long a terminal spawn task stays replayable.
	spawnTaskTTL = 120 * time.Second
)

// CaptureController exposes the capture collaborator to overlay commands.
type CaptureController interface {
	AudioActive() bool
	ScreenActive() bool
	ToggleAudio() bool
	ToggleScreen() bool
	SwitchDevice() string
}

// MessageSink receives user messages typed into the overlay.
type MessageSink interface {
	Send(message string)
}

// ProfilingSink receives the overlay's self-reported profiling snapshots.
type ProfilingSink interface {
	ReportOverlay(snapshot map[string]interface{})
}

// StatusSource supplies the latest tick result for status snapshots.
type StatusSource interface {
	Status() analyzer.Status
}

// broadcastOp is one unit of work for the hub loop.
type broadcastOp struct {
	data []byte
	feed *FeedMessage
	task *SpawnTask
}

type spawnEntry struct {
	task    SpawnTask
	touched time.Time
}

// terminalAt is the moment the TTL clock starts: the task's own completedAt
// stamp, or the receipt time when the sender never set one.
func (e *spawnEntry) terminalAt() time.Time {
	if e.task.CompletedAt > 0 {
		return time.UnixMilli(e.task.CompletedAt)
	}
	return e.touched
}

// Hub owns the overlay client set. Only the Run loop mutates it; everything
// else posts through channels.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastOp

	replay     []FeedMessage
	spawnOrder []string
	spawnTasks map[string]*spawnEntry

	capture   CaptureController
	messages  MessageSink
	profiling ProfilingSink
	status    StatusSource

	// connected mirrors len(clients) > 0 for status snapshots built off
	// the hub goroutine.
	connected atomic.Bool

	now func() time.Time
	log *logger.Logger
}

// NewHub creates a hub. The collaborators may be nil; the matching inbound
// messages are then logged and dropped.
func NewHub(capture CaptureController, messages MessageSink, profiling ProfilingSink, status StatusSource, log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastOp, 256),
		spawnTasks: make(map[string]*spawnEntry),
		capture:    capture,
		messages:   messages,
		profiling:  profiling,
		status:     status,
		now:        time.Now,
		log:        log.WithFields(zap.String("component", "overlay_hub")),
	}
}

// Run drives registration, broadcast and the heartbeat until ctx is done.
// On shutdown every client is closed with the going-away code.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("Overlay hub started")
	defer h.log.Info("Overlay hub stopped")

	heartbeat := time.NewTicker(heartbeatPeriod)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.connected.Store(false)
			return

		case client := <-h.register:
			h.accept(client)

		case client := <-h.unregister:
			h.drop(client)

		case op := <-h.broadcast:
			h.dispatch(op)

		case <-heartbeat.C:
			h.heartbeat()
		}
	}
}

// accept wires a new client: status snapshot, feed replay in id order, then
// the surviving spawn tasks in insertion order.
func (h *Hub) accept(client *Client) {
	h.clients[client] = true
	h.connected.Store(true)
	client.alive.Store(true)
	h.log.Debug("Overlay client connected", zap.String("client_id", client.ID))

	if data, err := json.Marshal(h.statusMessage()); err == nil {
		client.enqueue(data)
	}

	for _, msg := range h.replay {
		if data, err := json.Marshal(msg); err == nil {
			client.enqueue(data)
		}
	}

	h.pruneSpawnTasks()
	for _, id := range h.spawnOrder {
		if entry, ok := h.spawnTasks[id]; ok {
			if data, err := json.Marshal(entry.task); err == nil {
				client.enqueue(data)
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.connected.Store(len(h.clients) > 0)
	h.log.Debug("Overlay client disconnected", zap.String("client_id", client.ID))
}

// heartbeat closes clients that stayed silent for a full round and probes
// the rest with an app-level ping.
func (h *Hub) heartbeat() {
	ping, err := json.Marshal(PingMessage{Type: TypePing, Ts: h.now().UnixMilli()})
	if err != nil {
		return
	}
	for client := range h.clients {
		if !client.alive.Load() {
			h.log.Debug("Closing stale overlay client", zap.String("client_id", client.ID))
			client.closeCode.Store(closeStale)
			delete(h.clients, client)
			close(client.send)
			continue
		}
		client.alive.Store(false)
		client.enqueue(ping)
	}
	h.connected.Store(len(h.clients) > 0)
}

func (h *Hub) dispatch(op broadcastOp) {
	if op.feed != nil {
		h.replay = append(h.replay, *op.feed)
		if len(h.replay) > replayCap {
			h.replay = h.replay[len(h.replay)-replayCap:]
		}
	}
	if op.task != nil {
		h.upsertSpawnTask(*op.task)
		h.pruneSpawnTasks()
	}
	h.fanOut(op.data)
}

func (h *Hub) fanOut(data []byte) {
	for client := range h.clients {
		client.enqueue(data)
	}
}

func (h *Hub) upsertSpawnTask(task SpawnTask) {
	if entry, ok := h.spawnTasks[task.TaskID]; ok {
		entry.task = task
		entry.touched = h.now()
		return
	}
	h.spawnTasks[task.TaskID] = &spawnEntry{task: task, touched: h.now()}
	h.spawnOrder = append(h.spawnOrder, task.TaskID)
}

// pruneSpawnTasks evicts terminal tasks whose TTL elapsed.
func (h *Hub) pruneSpawnTasks() {
	cutoff := h.now().Add(-spawnTaskTTL)
	kept := h.spawnOrder[:0]
	for _, id := range h.spawnOrder {
		entry, ok := h.spawnTasks[id]
		if !ok {
			continue
		}
		if entry.task.IsTerminal() && entry.terminalAt().Before(cutoff) {
			delete(h.spawnTasks, id)
			continue
		}
		kept = append(kept, id)
	}
	h.spawnOrder = kept
}

// Register hands an accepted connection to the hub loop.
func (h *Hub) Register(client *Client) { h.register <- client }

// Unregister removes a client after its read pump exits.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	default:
		// Hub already stopped.
	}
}

// BroadcastFeed appends to the replay buffer and fans the item out.
func (h *Hub) BroadcastFeed(item buffer.FeedItem) {
	msg := NewFeedMessage(item)
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.broadcast <- broadcastOp{data: data, feed: &msg}
}

// BroadcastStatus fans out a fresh status snapshot.
func (h *Hub) BroadcastStatus() {
	data, err := json.Marshal(h.statusMessage())
	if err != nil {
		return
	}
	h.broadcast <- broadcastOp{data: data}
}

// BroadcastSpawnTask upserts the task buffer and fans the update out.
func (h *Hub) BroadcastSpawnTask(task SpawnTask) {
	task.Type = TypeSpawnTask
	data, err := json.Marshal(task)
	if err != nil {
		return
	}
	h.broadcast <- broadcastOp{data: data, task: &task}
}

// BroadcastProfiling fans out a profiling frame.
func (h *Hub) BroadcastProfiling(msg ProfilingMessage) {
	msg.Type = TypeProfiling
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.broadcast <- broadcastOp{data: data}
}

func (h *Hub) statusMessage() StatusMessage {
	msg := StatusMessage{
		Type:       TypeStatus,
		Audio:      "muted",
		Screen:     "off",
		Connection: "disconnected",
		Ts:         h.now().UnixMilli(),
	}
	if h.connected.Load() {
		msg.Connection = "connected"
	}
	if h.capture != nil {
		if h.capture.AudioActive() {
			msg.Audio = "active"
		}
		if h.capture.ScreenActive() {
			msg.Screen = "active"
		}
	}
	if h.status != nil {
		st := h.status.Status()
		msg.HUD = st.HUD
		msg.Digest = st.Digest
		msg.TickID = st.TickID
	}
	return msg
}

// handleInbound routes one client message. Called from read pumps.
func (h *Hub) handleInbound(c *Client, msg *inbound) {
	switch msg.Type {
	case TypePong:
		// alive already reset by the read pump

	case TypeMessage:
		if msg.Text == "" || h.messages == nil {
			return
		}
		h.messages.Send(msg.Text)

	case TypeCommand:
		h.handleCommand(c, msg.Action)

	case TypeProfiling:
		if h.profiling == nil {
			return
		}
		var snapshot map[string]interface{}
		if err := json.Unmarshal(msg.Raw, &snapshot); err == nil {
			delete(snapshot, "type")
			h.profiling.ReportOverlay(snapshot)
		}

	default:
		c.log.Debug("Ignoring unknown overlay message", zap.String("type", msg.Type))
	}
}

func (h *Hub) handleCommand(c *Client, action string) {
	if h.capture == nil {
		c.log.Warn("Capture commands unavailable", zap.String("action", action))
		return
	}
	switch action {
	case ActionToggleAudio:
		active := h.capture.ToggleAudio()
		h.log.Info("Audio capture toggled", zap.Bool("active", active))
		h.BroadcastStatus()
	case ActionToggleScreen:
		active := h.capture.ToggleScreen()
		h.log.Info("Screen capture toggled", zap.Bool("active", active))
		h.BroadcastStatus()
	case ActionSwitchDevice:
		device := h.capture.SwitchDevice()
		h.log.Info("Audio device switched", zap.String("device", device))
		h.BroadcastStatus()
	default:
		c.log.Debug("Ignoring unknown overlay command", zap.String("action", action))
	}
}
