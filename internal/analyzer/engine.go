// Package analyzer runs the periodic tick: assemble a context window, ask
// the model chain for a HUD line and digest, and hand the result to the
// escalation pipeline.
package analyzer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sinain/sinain-core/internal/buffer"
	"github.com/sinain/sinain-core/internal/common/logger"
	"github.com/sinain/sinain-core/internal/events"
	eventbus "github.com/sinain/sinain-core/internal/events/bus"
	"github.com/sinain/sinain-core/internal/llm"
	"github.com/sinain/sinain-core/internal/situation"
	"github.com/sinain/sinain-core/internal/telemetry"
	"github.com/sinain/sinain-core/internal/window"
)

// Entry is the durable result of one completed tick.
type Entry struct {
	TickID             int64        `json:"tickId"`
	Ts                 int64        `json:"ts"`
	HUD                string       `json:"hud"`
	Digest             string       `json:"digest"`
	ParsedOK           bool         `json:"parsedOk"`
	Model              string       `json:"model"`
	LatencyMs          int64        `json:"latencyMs"`
	InputTokens        int          `json:"inputTokens"`
	OutputTokens       int          `json:"outputTokens"`
	ContextFreshnessMs int64        `json:"contextFreshnessMs"`
	Context            EntryContext `json:"context"`
}

// EntryContext records what the tick actually observed.
type EntryContext struct {
	CurrentApp      string   `json:"currentApp"`
	AppHistoryNames []string `json:"appHistoryNames"`
	AudioCount      int      `json:"audioCount"`
	ScreenCount     int      `json:"screenCount"`
}

// Status is the snapshot pushed to overlay clients.
type Status struct {
	HUD      string `json:"hud"`
	Digest   string `json:"digest"`
	TickID   int64  `json:"tickId"`
	Ts       int64  `json:"ts"`
	ParsedOK bool   `json:"parsedOk"`
	Model    string `json:"model"`
}

// Completer is the model chain the engine calls once per tick.
type Completer interface {
	Complete(ctx context.Context, system, user string) (*llm.Result, error)
}

// Escalator decides on and delivers escalations. The decision is returned
// synchronously for tracing; delivery happens in the background.
type Escalator interface {
	HandleTick(entry Entry, win *window.ContextWindow) (escalated bool, score int)
}

// Config is the engine's scheduling and sizing knobs.
type Config struct {
	Debounce    time.Duration
	MaxInterval time.Duration
	Cooldown    time.Duration
	MaxAge      time.Duration
	Preset      window.RichnessPreset
	PushToFeed  bool
}

// Engine schedules ticks: debounced after new events, at least every
// MaxInterval regardless. At most one tick runs at a time.
type Engine struct {
	cfg       Config
	feed      *buffer.FeedBuffer
	sense     *buffer.SenseBuffer
	chain     Completer
	tracer    *telemetry.Tracer
	journal   *telemetry.Journal
	profiler  *telemetry.Profiler
	snapshot  *situation.Writer
	escalator Escalator
	bus       eventbus.EventBus
	log       *logger.Logger

	notify chan struct{}
	now    func() time.Time

	mu          sync.Mutex
	tickID      int64
	lastHUD     string
	lastStatus  Status
	lastTickEnd time.Time
}

// NewEngine wires an engine. The escalator may be nil while escalation is
// disabled.
func NewEngine(cfg Config, feed *buffer.FeedBuffer, sense *buffer.SenseBuffer, chain Completer,
	tracer *telemetry.Tracer, journal *telemetry.Journal, profiler *telemetry.Profiler,
	snapshot *situation.Writer, escalator Escalator, bus eventbus.EventBus, log *logger.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		feed:      feed,
		sense:     sense,
		chain:     chain,
		tracer:    tracer,
		journal:   journal,
		profiler:  profiler,
		snapshot:  snapshot,
		escalator: escalator,
		bus:       bus,
		log:       log,
		notify:    make(chan struct{}, 1),
		now:       time.Now,
	}
}

// Notify signals that a new event arrived and a debounced tick should be
// scheduled. Never blocks.
func (e *Engine) Notify() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Status returns the latest tick result snapshot.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastStatus
}

// Run drives the scheduler until ctx is done. Cooldown suppresses debounced
// ticks only; the max-interval tick always fires.
func (e *Engine) Run(ctx context.Context) {
	debounce := time.NewTimer(e.cfg.Debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	maxInterval := time.NewTicker(e.cfg.MaxInterval)
	defer maxInterval.Stop()

	debouncePending := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.notify:
			if !debouncePending {
				debounce.Reset(e.cfg.Debounce)
				debouncePending = true
			}
		case <-debounce.C:
			debouncePending = false
			e.mu.Lock()
			inCooldown := !e.lastTickEnd.IsZero() && e.now().Sub(e.lastTickEnd) < e.cfg.Cooldown
			e.mu.Unlock()
			if inCooldown {
				continue
			}
			e.Tick(ctx)
		case <-maxInterval.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one full analysis pass. Safe to call concurrently; calls are
// serialized and each gets its own trace. A failed model call fails the tick
// but never the engine.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.lastTickEnd = e.now() }()

	e.tickID++
	tickStart := e.now()
	tt := e.tracer.StartTick(e.tickID)

	buildSpan := tt.StartSpan("contextBuild")
	win := window.Assemble(tickStart, e.feed, e.sense, e.cfg.MaxAge, e.sense.LatestApp(), e.cfg.Preset)
	buildSpan.End(map[string]interface{}{
		"screenEvents": len(win.ScreenEvents),
		"audioEntries": len(win.AudioEntries),
		"freshnessMs":  win.FreshnessMs(),
	})

	prompt := BuildPrompt(tickStart, win)

	llmSpan := tt.StartSpan("llmCall")
	res, err := e.chain.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		llmSpan.EndError(err, nil)
		e.log.WithError(err).WithTickID(e.tickID).Error("Tick failed")
		tr := tt.Finish(telemetry.TraceMetrics{
			ContextScreenEvents: len(win.ScreenEvents),
			ContextAudioEntries: len(win.AudioEntries),
			ContextRichness:     win.Preset.Name,
		})
		e.journal.Append(tr)
		return
	}
	llmSpan.End(map[string]interface{}{
		"model":        res.Model,
		"latencyMs":    res.LatencyMs,
		"inputTokens":  res.InputTokens,
		"outputTokens": res.OutputTokens,
	})

	parseSpan := tt.StartSpan("parse")
	hud, digest, parsedOK := ParseReply(res.Text)
	parseSpan.End(map[string]interface{}{"parsedOk": parsedOK})

	appNames := make([]string, 0, len(win.AppHistory))
	for _, tr := range win.AppHistory {
		appNames = append(appNames, tr.App)
	}
	entry := Entry{
		TickID:             e.tickID,
		Ts:                 tickStart.UnixMilli(),
		HUD:                hud,
		Digest:             digest,
		ParsedOK:           parsedOK,
		Model:              res.Model,
		LatencyMs:          res.LatencyMs,
		InputTokens:        res.InputTokens,
		OutputTokens:       res.OutputTokens,
		ContextFreshnessMs: win.FreshnessMs(),
		Context: EntryContext{
			CurrentApp:      win.CurrentApp,
			AppHistoryNames: appNames,
			AudioCount:      len(win.AudioEntries),
			ScreenCount:     len(win.ScreenEvents),
		},
	}

	hudChanged := hud != e.lastHUD
	e.lastHUD = hud
	e.lastStatus = Status{HUD: hud, Digest: digest, TickID: e.tickID, Ts: entry.Ts, ParsedOK: parsedOK, Model: res.Model}

	if e.cfg.PushToFeed && hudChanged {
		item, pushErr := e.feed.Push(buffer.FeedItem{
			Source:  buffer.SourceAgent,
			Ts:      entry.Ts,
			Channel: buffer.ChannelStream,
			Text:    hud,
		})
		if pushErr == nil {
			e.publish(events.FeedItemPushed, item)
		}
	}
	e.publish(events.StatusChanged, e.lastStatus)

	if writeErr := e.snapshot.Write(situation.State{
		Digest:     digest,
		ParsedOK:   parsedOK,
		TickID:     e.tickID,
		CurrentApp: win.CurrentApp,
		Window:     win,
	}); writeErr != nil {
		e.log.WithError(writeErr).Warn("Failed to write situation snapshot")
	}

	escalated, score := false, 0
	var escalationMs int64
	if e.escalator != nil {
		escStart := e.now()
		escalated, score = e.escalator.HandleTick(entry, win)
		escalationMs = e.now().Sub(escStart).Milliseconds()
	}

	tr := tt.Finish(telemetry.TraceMetrics{
		TotalLatencyMs:      e.now().Sub(tickStart).Milliseconds(),
		LLMLatencyMs:        res.LatencyMs,
		LLMInputTokens:      res.InputTokens,
		LLMOutputTokens:     res.OutputTokens,
		LLMCost:             res.Cost,
		Escalated:           escalated,
		EscalationScore:     score,
		EscalationLatencyMs: escalationMs,
		ContextScreenEvents: len(win.ScreenEvents),
		ContextAudioEntries: len(win.AudioEntries),
		ContextRichness:     win.Preset.Name,
		DigestLength:        len(digest),
		HudChanged:          hudChanged,
	})
	e.journal.Append(tr)
	e.profiler.TimerRecord("tick", e.now().Sub(tickStart))
	e.publish(events.TickCompleted, entry)
}

func (e *Engine) publish(subject string, data interface{}) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(context.Background(), subject, eventbus.NewEvent(subject, "analyzer", data)); err != nil {
		e.log.WithError(err).Warn("Failed to publish event", zap.String("subject", subject))
	}
}
