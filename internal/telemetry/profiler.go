package telemetry

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/sinain/sinain-core/internal/common/logger"
)

// sampleInterval is how often process-level metrics are refreshed.
const sampleInterval = 10 * time.Second

// TimerStats aggregates repeated duration samples under one name.
type TimerStats struct {
	Count   int64 `json:"count"`
	TotalMs int64 `json:"totalMs"`
	LastMs  int64 `json:"lastMs"`
	MaxMs   int64 `json:"maxMs"`
}

// RuntimeStats is the periodically sampled process snapshot.
type RuntimeStats struct {
	RSSMb      float64 `json:"rssMb"`
	HeapMb     float64 `json:"heapMb"`
	Goroutines int     `json:"goroutines"`
	GCCount    uint32  `json:"gcCount"`
	GCTotalMs  int64   `json:"gcTotalMs"`
	GCLastMs   int64   `json:"gcLastMs"`
	GCMaxMs    int64   `json:"gcMaxMs"`
	LagMeanMs  float64 `json:"lagMeanMs"`
	LagMaxMs   float64 `json:"lagMaxMs"`
	UptimeS    int64   `json:"uptimeS"`
	Ts         int64   `json:"ts"`
}

// Snapshot is the merged profiling view served on /health and pushed to
// overlay clients. External process snapshots stay null until the process
// reports for the first time.
type Snapshot struct {
	Core         RuntimeStats           `json:"core"`
	Gauges       map[string]float64     `json:"gauges"`
	Timers       map[string]TimerStats  `json:"timers"`
	ScreenClient map[string]interface{} `json:"screenClient"`
	Overlay      map[string]interface{} `json:"overlay"`
}

// Profiler collects gauges, timers and process-level samples, plus the
// self-reported snapshots of the screen client and the overlay.
type Profiler struct {
	mu      sync.RWMutex
	gauges  map[string]float64
	timers  map[string]*TimerStats
	runtime RuntimeStats

	screenClient map[string]interface{}
	overlay      map[string]interface{}

	// loop lag samples since the last runtime sample
	lagSumMs   float64
	lagMaxMs   float64
	lagSamples int

	gcMaxMs    int64
	lastGCNum  uint32
	startAt    time.Time
	now        func() time.Time
	log        *logger.Logger
	onSample   func(Snapshot)
	onSampleMu sync.Mutex
}

// NewProfiler creates a profiler. Run must be called to start sampling.
func NewProfiler(log *logger.Logger) *Profiler {
	return &Profiler{
		gauges:  make(map[string]float64),
		timers:  make(map[string]*TimerStats),
		startAt: time.Now(),
		now:     time.Now,
		log:     log,
	}
}

// Gauge records a last-write-wins value under name.
func (p *Profiler) Gauge(name string, value float64) {
	p.mu.Lock()
	p.gauges[name] = value
	p.mu.Unlock()
}

// TimerRecord folds one duration sample into the named timer.
func (p *Profiler) TimerRecord(name string, d time.Duration) {
	ms := d.Milliseconds()

	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.timers[name]
	if !ok {
		t = &TimerStats{}
		p.timers[name] = t
	}
	t.Count++
	t.TotalMs += ms
	t.LastMs = ms
	if ms > t.MaxMs {
		t.MaxMs = ms
	}
}

// TimeAsync runs fn and records its wall time under name, error or not.
func (p *Profiler) TimeAsync(name string, fn func() error) error {
	start := p.now()
	err := fn()
	p.TimerRecord(name, p.now().Sub(start))
	return err
}

// ReportScreenClient stores the latest screen-client snapshot.
func (p *Profiler) ReportScreenClient(snapshot map[string]interface{}) {
	p.mu.Lock()
	p.screenClient = snapshot
	p.mu.Unlock()
}

// ReportOverlay stores the latest overlay snapshot.
func (p *Profiler) ReportOverlay(snapshot map[string]interface{}) {
	p.mu.Lock()
	p.overlay = snapshot
	p.mu.Unlock()
}

// OnSample registers a callback invoked with a fresh snapshot after every
// sampling pass. Used to push profiling frames to overlay clients.
func (p *Profiler) OnSample(fn func(Snapshot)) {
	p.onSampleMu.Lock()
	p.onSample = fn
	p.onSampleMu.Unlock()
}

// Snapshot returns the merged profiling view. Maps are copies.
func (p *Profiler) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Snapshot{
		Core:         p.runtime,
		Gauges:       make(map[string]float64, len(p.gauges)),
		Timers:       make(map[string]TimerStats, len(p.timers)),
		ScreenClient: p.screenClient,
		Overlay:      p.overlay,
	}
	for k, v := range p.gauges {
		s.Gauges[k] = v
	}
	for k, v := range p.timers {
		s.Timers[k] = *v
	}
	return s
}

// Run samples runtime metrics every 10s until ctx is done. The ticker drift
// doubles as a scheduler-lag probe.
func (p *Profiler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastSample := p.now()
	expected := p.now().Add(time.Second)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := p.now()
			lagMs := float64(now.Sub(expected).Milliseconds())
			if lagMs < 0 {
				lagMs = 0
			}
			expected = now.Add(time.Second)

			p.mu.Lock()
			p.lagSumMs += lagMs
			if lagMs > p.lagMaxMs {
				p.lagMaxMs = lagMs
			}
			p.lagSamples++
			p.mu.Unlock()

			if now.Sub(lastSample) >= sampleInterval {
				lastSample = now
				p.sample(now)
			}
		}
	}
}

func (p *Profiler) sample(now time.Time) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	lastGCMs := int64(0)
	if ms.NumGC > 0 {
		lastGCMs = int64(ms.PauseNs[(ms.NumGC+255)%256] / 1e6)
	}

	p.mu.Lock()
	if lastGCMs > p.gcMaxMs {
		p.gcMaxMs = lastGCMs
	}
	p.lastGCNum = ms.NumGC

	lagMean := 0.0
	if p.lagSamples > 0 {
		lagMean = p.lagSumMs / float64(p.lagSamples)
	}
	p.runtime = RuntimeStats{
		RSSMb:      float64(ms.Sys) / (1024 * 1024),
		HeapMb:     float64(ms.HeapAlloc) / (1024 * 1024),
		Goroutines: runtime.NumGoroutine(),
		GCCount:    ms.NumGC,
		GCTotalMs:  int64(ms.PauseTotalNs / 1e6),
		GCLastMs:   lastGCMs,
		GCMaxMs:    p.gcMaxMs,
		LagMeanMs:  lagMean,
		LagMaxMs:   p.lagMaxMs,
		UptimeS:    int64(now.Sub(p.startAt).Seconds()),
		Ts:         now.UnixMilli(),
	}
	p.lagSumMs = 0
	p.lagMaxMs = 0
	p.lagSamples = 0
	p.mu.Unlock()

	p.onSampleMu.Lock()
	fn := p.onSample
	p.onSampleMu.Unlock()
	if fn != nil {
		fn(p.Snapshot())
	}
}
