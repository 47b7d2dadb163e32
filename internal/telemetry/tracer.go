// Package telemetry provides the per-tick tracer, the process profiler and
// the append-only trace journal.
package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// MaxTraces is the size of the rolling in-memory trace window.
const MaxTraces = 500

// Span is one timed step inside a tick trace.
type Span struct {
	Name       string                 `json:"name"`
	StartTs    int64                  `json:"startTs"`
	EndTs      int64                  `json:"endTs"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Status     string                 `json:"status"` // ok or error
	Error      string                 `json:"error,omitempty"`
}

// TraceMetrics summarizes a tick for the journal and the /traces endpoint.
type TraceMetrics struct {
	TotalLatencyMs      int64   `json:"totalLatencyMs"`
	LLMLatencyMs        int64   `json:"llmLatencyMs"`
	LLMInputTokens      int     `json:"llmInputTokens"`
	LLMOutputTokens     int     `json:"llmOutputTokens"`
	LLMCost             float64 `json:"llmCost"`
	Escalated           bool    `json:"escalated"`
	EscalationScore     int     `json:"escalationScore"`
	EscalationLatencyMs int64   `json:"escalationLatencyMs,omitempty"`
	ContextScreenEvents int     `json:"contextScreenEvents"`
	ContextAudioEntries int     `json:"contextAudioEntries"`
	ContextRichness     string  `json:"contextRichness"`
	DigestLength        int     `json:"digestLength"`
	HudChanged          bool    `json:"hudChanged"`
}

// Trace is the structured record one tick emits.
type Trace struct {
	TraceID string       `json:"traceId"`
	TickID  int64        `json:"tickId"`
	Ts      int64        `json:"ts"`
	Spans   []Span       `json:"spans"`
	Metrics TraceMetrics `json:"metrics"`
}

// TraceStats is the running aggregate over the retained window.
type TraceStats struct {
	Count          int     `json:"count"`
	LatencyP50     int64   `json:"latencyP50"`
	LatencyP95     int64   `json:"latencyP95"`
	AvgCostPerTick float64 `json:"avgCostPerTick"`
	TotalCost      float64 `json:"totalCost"`
}

// Tracer keeps a FIFO window of the last MaxTraces tick traces.
type Tracer struct {
	mu     sync.RWMutex
	traces []Trace
	now    func() time.Time
}

// NewTracer creates an empty tracer.
func NewTracer() *Tracer {
	return &Tracer{now: time.Now}
}

// StartTick opens a trace context for one tick. The caller must Finish it,
// including on the error path; a failed tick still produces a trace.
func (t *Tracer) StartTick(tickID int64) *TickTrace {
	start := t.now()
	otelCtx, otelSpan := OtelTracer("sinain-tick").Start(context.Background(), "tick")
	otelSpan.SetAttributes(attribute.Int64("tick_id", tickID))

	return &TickTrace{
		tracer:   t,
		startAt:  start,
		otelSpan: otelSpan,
		otelCtx:  otelCtx,
		trace: Trace{
			TraceID: uuid.New().String(),
			TickID:  tickID,
			Ts:      start.UnixMilli(),
		},
	}
}

// record appends a finished trace, evicting from the oldest end.
func (t *Tracer) record(tr Trace) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.traces = append(t.traces, tr)
	if len(t.traces) > MaxTraces {
		t.traces = t.traces[len(t.traces)-MaxTraces:]
	}
}

// GetTraces returns up to limit traces with tickId > after, oldest first.
func (t *Tracer) GetTraces(after int64, limit int) []Trace {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 {
		limit = MaxTraces
	}
	out := make([]Trace, 0, limit)
	for _, tr := range t.traces {
		if tr.TickID <= after {
			continue
		}
		out = append(out, tr)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Stats computes the running aggregate over the retained window.
func (t *Tracer) Stats() TraceStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := TraceStats{Count: len(t.traces)}
	if stats.Count == 0 {
		return stats
	}

	latencies := make([]int64, 0, stats.Count)
	for _, tr := range t.traces {
		latencies = append(latencies, tr.Metrics.TotalLatencyMs)
		stats.TotalCost += tr.Metrics.LLMCost
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	stats.LatencyP50 = latencies[len(latencies)/2]
	p95 := (len(latencies) * 95) / 100
	if p95 >= len(latencies) {
		p95 = len(latencies) - 1
	}
	stats.LatencyP95 = latencies[p95]
	stats.AvgCostPerTick = stats.TotalCost / float64(stats.Count)
	return stats
}

// TickTrace is the open trace context of one running tick.
type TickTrace struct {
	tracer  *Tracer
	startAt time.Time
	mu      sync.Mutex
	trace   Trace

	otelSpan oteltrace.Span
	otelCtx  context.Context
}

// TraceID returns the assigned trace id.
func (tt *TickTrace) TraceID() string { return tt.trace.TraceID }

// SpanHandle is an open span inside a tick trace.
type SpanHandle struct {
	tick    *TickTrace
	index   int
	started time.Time
	otel    oteltrace.Span
}

// StartSpan opens a named span. Spans are recorded in insertion order.
func (tt *TickTrace) StartSpan(name string) *SpanHandle {
	now := tt.tracer.now()
	_, otelSpan := OtelTracer("sinain-tick").Start(tt.otelCtx, name)

	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.trace.Spans = append(tt.trace.Spans, Span{
		Name:    name,
		StartTs: now.UnixMilli(),
		Status:  "ok",
	})
	return &SpanHandle{tick: tt, index: len(tt.trace.Spans) - 1, started: now, otel: otelSpan}
}

// End closes the span with ok status and optional attributes.
func (s *SpanHandle) End(attrs map[string]interface{}) {
	s.close("ok", "", attrs)
}

// EndError closes the span with error status.
func (s *SpanHandle) EndError(err error, attrs map[string]interface{}) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.close("error", msg, attrs)
}

func (s *SpanHandle) close(status, errMsg string, attrs map[string]interface{}) {
	end := s.tick.tracer.now()

	s.tick.mu.Lock()
	sp := &s.tick.trace.Spans[s.index]
	sp.EndTs = end.UnixMilli()
	sp.Status = status
	sp.Error = errMsg
	if len(attrs) > 0 {
		sp.Attributes = attrs
	}
	s.tick.mu.Unlock()

	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			s.otel.SetAttributes(attribute.String(k, val))
		case int:
			s.otel.SetAttributes(attribute.Int(k, val))
		case int64:
			s.otel.SetAttributes(attribute.Int64(k, val))
		case bool:
			s.otel.SetAttributes(attribute.Bool(k, val))
		case float64:
			s.otel.SetAttributes(attribute.Float64(k, val))
		}
	}
	if status == "error" {
		s.otel.SetStatus(codes.Error, errMsg)
	}
	s.otel.End()
}

// Finish seals the trace with its metrics and records it.
func (tt *TickTrace) Finish(metrics TraceMetrics) Trace {
	end := tt.tracer.now()

	tt.mu.Lock()
	if metrics.TotalLatencyMs == 0 {
		metrics.TotalLatencyMs = end.Sub(tt.startAt).Milliseconds()
	}
	tt.trace.Metrics = metrics
	tr := tt.trace
	tt.mu.Unlock()

	tt.otelSpan.SetAttributes(
		attribute.Int64("total_latency_ms", metrics.TotalLatencyMs),
		attribute.Bool("escalated", metrics.Escalated),
	)
	tt.otelSpan.End()

	tt.tracer.record(tr)
	return tr
}
