package escalation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sinain/sinain-core/internal/analyzer"
	"github.com/sinain/sinain-core/internal/assistant"
	"github.com/sinain/sinain-core/internal/buffer"
	"github.com/sinain/sinain-core/internal/common/logger"
	"github.com/sinain/sinain-core/internal/events"
	eventbus "github.com/sinain/sinain-core/internal/events/bus"
	"github.com/sinain/sinain-core/internal/window"
)

const (
	// maxReplyChars caps the assistant reply pushed onto the feed.
	maxReplyChars = 2000
	// robotGlyph prefixes assistant replies on the HUD.
	robotGlyph = "🤖"
	// rpcWaitLimit bounds one agent.wait call.
	rpcWaitLimit = 60 * time.Second
)

// AgentCaller is the primary RPC transport. AgentWait blocks for a reply;
// Agent is fire-and-forget.
type AgentCaller interface {
	IsConnected() bool
	AgentWait(ctx context.Context, message, idemKey string, timeout time.Duration) (*assistant.WaitReply, error)
	Agent(ctx context.Context, message, idemKey string) error
}

// Hook is the HTTP fallback transport.
type Hook interface {
	Available() bool
	Send(ctx context.Context, message string) error
}

// Stats is the orchestrator's counter snapshot.
type Stats struct {
	Mode             Mode  `json:"mode"`
	TotalEscalations int64 `json:"totalEscalations"`
	TotalResponses   int64 `json:"totalResponses"`
	TotalErrors      int64 `json:"totalErrors"`
	TotalNoReply     int64 `json:"totalNoReply"`
	LastEscalationTs int64 `json:"lastEscalationTs"`
	LastResponseTs   int64 `json:"lastResponseTs"`
}

// Orchestrator owns the escalation state machine: scoring, cooldown and
// dedup bookkeeping, message construction and dual-transport delivery.
// Delivery runs in the background; the tick engine only pays for the
// decision.
type Orchestrator struct {
	rpc  AgentCaller
	hook Hook
	feed *buffer.FeedBuffer
	bus  eventbus.EventBus
	log  *logger.Logger

	cooldown time.Duration
	now      func() time.Time

	mu                  sync.Mutex
	mode                Mode
	lastEscalationTs    int64
	lastEscalatedDigest string
	stats               Stats
	onModeChange        func(active bool)
}

// NewOrchestrator wires an orchestrator. rpc and hook may be nil when the
// corresponding transport is unconfigured.
func NewOrchestrator(mode Mode, cooldown time.Duration, rpc AgentCaller, hook Hook,
	feed *buffer.FeedBuffer, bus eventbus.EventBus, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		rpc:      rpc,
		hook:     hook,
		feed:     feed,
		bus:      bus,
		log:      log,
		cooldown: cooldown,
		mode:     mode,
		now:      time.Now,
	}
}

// Mode returns the current escalation mode.
func (o *Orchestrator) Mode() Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// SetMode switches the escalation mode at runtime. Crossing the off boundary
// notifies the registered callback so the RPC socket can be established or
// torn down.
func (o *Orchestrator) SetMode(mode Mode) {
	o.mu.Lock()
	prev := o.mode
	o.mode = mode
	fn := o.onModeChange
	o.mu.Unlock()

	if fn != nil && (prev == ModeOff) != (mode == ModeOff) {
		fn(mode != ModeOff)
	}
	o.log.Info("Escalation mode changed", zap.String("mode", string(mode)))
}

// OnModeChange registers the socket lifecycle callback.
func (o *Orchestrator) OnModeChange(fn func(active bool)) {
	o.mu.Lock()
	o.onModeChange = fn
	o.mu.Unlock()
}

// Stats returns a counter snapshot.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.stats
	s.Mode = o.mode
	s.LastEscalationTs = o.lastEscalationTs
	return s
}

// HandleTick scores the tick and, when the gate opens, delivers the
// escalation in the background. The cooldown clock starts here, at decision
// time, not when delivery completes.
func (o *Orchestrator) HandleTick(entry analyzer.Entry, win *window.ContextWindow) (bool, int) {
	score := ScoreTick(entry.Digest, win.AudioEntries, win.AppHistory)
	now := o.now()

	o.mu.Lock()
	mode := o.mode
	ok := Decide(mode, now.UnixMilli(), o.lastEscalationTs, o.cooldown.Milliseconds(),
		entry.HUD, entry.Digest, o.lastEscalatedDigest, score)
	if !ok {
		o.mu.Unlock()
		return false, score.Total
	}
	o.lastEscalationTs = now.UnixMilli()
	o.lastEscalatedDigest = entry.Digest
	o.stats.TotalEscalations++
	o.mu.Unlock()

	message := BuildMessage(mode, now, entry, win)
	idemKey := fmt.Sprintf("hud-%d-%d", entry.TickID, now.UnixMilli())

	go o.deliver(mode, message, idemKey, entry)
	return true, score.Total
}

// Send pushes a direct user message to the assistant, bypassing the scorer
// and the wait cycle. Used for overlay-originated messages; the reply, if
// any, arrives through the assistant's own session.
func (o *Orchestrator) Send(message string) {
	idemKey := fmt.Sprintf("hud-user-%d", o.now().UnixMilli())
	go o.deliverDirect(message, idemKey)
}

func (o *Orchestrator) deliverDirect(message, idemKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if o.rpc != nil && o.rpc.IsConnected() {
		err := o.rpc.Agent(ctx, message, idemKey)
		if err == nil {
			return
		}
		o.log.WithError(err).Warn("Direct send over RPC failed")
		o.bumpErrors()
		// network exception: fall through to the hook
	}

	if o.hook != nil && o.hook.Available() {
		if err := o.hook.Send(ctx, message); err != nil {
			o.log.WithError(err).Warn("Hook delivery failed")
			o.bumpErrors()
		}
		return
	}

	o.log.Debug("No transport for direct message", zap.String("idem_key", idemKey))
}

func (o *Orchestrator) deliver(mode Mode, message, idemKey string, entry analyzer.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), rpcWaitLimit+10*time.Second)
	defer cancel()

	if o.rpc != nil && o.rpc.IsConnected() {
		reply, err := o.rpc.AgentWait(ctx, message, idemKey, rpcWaitLimit)
		if err == nil {
			o.handleReply(mode, reply, entry)
			return
		}
		o.pushErrNote(fmt.Sprintf("[err] escalation rpc failed: %v", err))
		o.bumpErrors()
		// network exception: fall through to the hook
	}

	if o.hook != nil && o.hook.Available() {
		if err := o.hook.Send(ctx, message); err != nil {
			o.log.WithError(err).Warn("Hook delivery failed")
			o.bumpErrors()
		}
		return
	}

	o.log.Debug("No escalation transport available, skipping", zap.String("idem_key", idemKey))
}

func (o *Orchestrator) handleReply(mode Mode, reply *assistant.WaitReply, entry analyzer.Entry) {
	switch {
	case reply.ErrorMsg != "":
		o.pushErrNote("[err] escalation failed: " + reply.ErrorMsg)
		o.bumpErrors()

	case reply.TimedOut:
		o.mu.Lock()
		o.stats.TotalNoReply++
		o.mu.Unlock()
		o.log.Info("Escalation timed out waiting for the assistant")

	case len(reply.Payloads) > 0:
		parts := make([]string, 0, len(reply.Payloads))
		for _, p := range reply.Payloads {
			parts = append(parts, p.Text)
		}
		text := strings.TrimSpace(strings.Join(parts, "\n"))
		if text == "" {
			o.noReply(mode, entry)
			return
		}
		o.mu.Lock()
		o.stats.TotalResponses++
		o.stats.LastResponseTs = o.now().UnixMilli()
		o.mu.Unlock()
		o.pushAgentReply(text)

	default:
		o.noReply(mode, entry)
	}
}

// noReply counts an empty assistant response. Focus and rich modes surface
// the digest itself so the HUD always shows something after an escalation.
func (o *Orchestrator) noReply(mode Mode, entry analyzer.Entry) {
	o.mu.Lock()
	o.stats.TotalNoReply++
	o.mu.Unlock()

	if mode == ModeFocus || mode == ModeRich {
		o.pushAgentReply(entry.Digest)
		return
	}
	o.log.Debug("Assistant declined to reply")
}

func (o *Orchestrator) pushAgentReply(text string) {
	text = robotGlyph + " " + text
	if len(text) > maxReplyChars {
		text = text[:maxReplyChars]
	}
	item, err := o.feed.Push(buffer.FeedItem{
		Source:   buffer.SourceAssistant,
		Channel:  buffer.ChannelAgent,
		Priority: buffer.PriorityHigh,
		Text:     text,
	})
	if err != nil {
		o.log.WithError(err).Warn("Failed to push assistant reply")
		return
	}
	o.publish(item)
}

func (o *Orchestrator) pushErrNote(text string) {
	item, err := o.feed.Push(buffer.FeedItem{
		Source:  buffer.SourceSystem,
		Channel: buffer.ChannelStream,
		Text:    text,
	})
	if err != nil {
		o.log.WithError(err).Warn("Failed to push error note")
		return
	}
	o.publish(item)
}

func (o *Orchestrator) publish(item buffer.FeedItem) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(context.Background(), events.FeedItemPushed,
		eventbus.NewEvent(events.FeedItemPushed, "escalation", item)); err != nil {
		o.log.WithError(err).Warn("Failed to publish feed event")
	}
}

func (o *Orchestrator) bumpErrors() {
	o.mu.Lock()
	o.stats.TotalErrors++
	o.mu.Unlock()
}
