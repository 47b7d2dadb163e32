// Package overlay is the push socket for HUD clients: feed items, status
// changes, spawn-task lifecycle and profiling frames fan out to every
// connected client.
package overlay

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/sinain/sinain-core/internal/buffer"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Outbound message types.
const (
	TypeFeed      = "feed"
	TypeStatus    = "status"
	TypePing      = "ping"
	TypeSpawnTask = "spawn_task"
	TypeProfiling = "profiling"
)

// Inbound message types.
const (
	TypeMessage = "message"
	TypeCommand = "command"
	TypePong    = "pong"
)

// Command actions.
const (
	ActionToggleAudio  = "toggle_audio"
	ActionToggleScreen = "toggle_screen"
	ActionSwitchDevice = "switch_device"
)

// FeedMessage is one feed item on the wire.
type FeedMessage struct {
	Type     string          `json:"type"`
	ID       uint64          `json:"id"`
	Text     string          `json:"text"`
	Priority buffer.Priority `json:"priority"`
	Ts       int64           `json:"ts"`
	Channel  buffer.Channel  `json:"channel"`
}

// NewFeedMessage converts a buffer item to its wire form.
func NewFeedMessage(item buffer.FeedItem) FeedMessage {
	return FeedMessage{
		Type:     TypeFeed,
		ID:       item.ID,
		Text:     item.Text,
		Priority: item.Priority,
		Ts:       item.Ts,
		Channel:  item.Channel,
	}
}

// StatusMessage is the combined capture/connection/tick snapshot.
type StatusMessage struct {
	Type       string `json:"type"`
	Audio      string `json:"audio"`      // active|muted
	Screen     string `json:"screen"`     // active|off
	Connection string `json:"connection"` // connected|disconnected|connecting
	HUD        string `json:"hud,omitempty"`
	Digest     string `json:"digest,omitempty"`
	TickID     int64  `json:"tickId,omitempty"`
	Ts         int64  `json:"ts"`
}

// PingMessage is the app-level liveness probe.
type PingMessage struct {
	Type string `json:"type"`
	Ts   int64  `json:"ts"`
}

// SpawnTask is one background-task lifecycle record.
type SpawnTask struct {
	Type          string `json:"type"`
	TaskID        string `json:"taskId"`
	Label         string `json:"label"`
	Status        string `json:"status"`
	StartedAt     int64  `json:"startedAt"`
	CompletedAt   int64  `json:"completedAt,omitempty"`
	ResultPreview string `json:"resultPreview,omitempty"`
}

// IsTerminal reports whether the task reached a final state.
func (t SpawnTask) IsTerminal() bool {
	switch t.Status {
	case "completed", "failed", "timeout":
		return true
	}
	return false
}

// ProfilingMessage carries a profiling frame to overlay clients.
type ProfilingMessage struct {
	Type    string  `json:"type"`
	RSSMb   float64 `json:"rssMb"`
	UptimeS int64   `json:"uptimeS"`
	Ts      int64   `json:"ts"`
}

// inbound is the envelope every client message is first parsed into.
type inbound struct {
	Type   string              `json:"type"`
	Text   string              `json:"text,omitempty"`
	Action string              `json:"action,omitempty"`
	Ts     int64               `json:"ts,omitempty"`
	Raw    jsoniter.RawMessage `json:"-"`
}
