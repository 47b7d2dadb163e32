// Package window assembles the bounded temporal context a tick observes.
// Assembly is a pure function over one consistent snapshot of each buffer;
// late pushes never retroactively appear in a started tick.
package window

import (
	"sort"
	"time"

	"github.com/sinain/sinain-core/internal/buffer"
)

// RichnessPreset bounds how much raw context is packed into prompts and
// escalation messages.
type RichnessPreset struct {
	Name               string
	MaxScreenEvents    int
	MaxAudioEntries    int
	MaxOcrChars        int
	MaxTranscriptChars int
}

// The three presets. Lean keeps escalation messages around 7 KB, standard
// around 25 KB, rich around 111 KB; all stay under the 256 KB envelope.
var (
	PresetLean     = RichnessPreset{Name: "lean", MaxScreenEvents: 3, MaxAudioEntries: 5, MaxOcrChars: 280, MaxTranscriptChars: 280}
	PresetStandard = RichnessPreset{Name: "standard", MaxScreenEvents: 8, MaxAudioEntries: 12, MaxOcrChars: 800, MaxTranscriptChars: 600}
	PresetRich     = RichnessPreset{Name: "rich", MaxScreenEvents: 30, MaxAudioEntries: 30, MaxOcrChars: 4000, MaxTranscriptChars: 2000}
)

// PresetByName resolves a preset name, defaulting to standard.
func PresetByName(name string) RichnessPreset {
	switch name {
	case "lean":
		return PresetLean
	case "rich":
		return PresetRich
	default:
		return PresetStandard
	}
}

// ContextWindow is an ephemeral snapshot of recent activity handed to the
// tick engine and the escalation pipeline.
type ContextWindow struct {
	ScreenEvents  []buffer.SenseEvent    // newest first, bounded by preset
	AudioEntries  []buffer.FeedItem      // newest first, bounded by preset
	AppHistory    []buffer.AppTransition // chronological, names normalized
	CurrentApp    string                 // normalized
	NewestEventTs int64                  // max producer ts over selected events, 0 when empty
	AssembledAt   time.Time
	AgeBound      time.Duration
	Preset        RichnessPreset
}

// FreshnessMs reports how stale the newest selected event was at assembly.
func (w *ContextWindow) FreshnessMs() int64 {
	if w.NewestEventTs == 0 {
		return -1
	}
	return w.AssembledAt.UnixMilli() - w.NewestEventTs
}

// Assemble builds a ContextWindow over the events inside [now-age, now].
// Slices are value copies; the buffers are only read.
func Assemble(now time.Time, feed *buffer.FeedBuffer, sense *buffer.SenseBuffer, age time.Duration, currentApp string, preset RichnessPreset) *ContextWindow {
	since := now.Add(-age).UnixMilli()

	// One read of the sense buffer serves both the screen slice and the app
	// chain, so a push racing the assembly cannot skew them apart.
	screen := sense.QueryByTime(since)
	history := appChain(screen)
	for i := range history {
		history[i].App = NormalizeAppName(history[i].App)
	}

	sort.Slice(screen, func(i, j int) bool { return screen[i].Ts > screen[j].Ts })
	if len(screen) > preset.MaxScreenEvents {
		screen = screen[:preset.MaxScreenEvents]
	}

	audio := feed.QueryBySource(buffer.SourceAudio, since)
	sort.Slice(audio, func(i, j int) bool { return audio[i].Ts > audio[j].Ts })
	if len(audio) > preset.MaxAudioEntries {
		audio = audio[:preset.MaxAudioEntries]
	}

	var newest int64
	for _, ev := range screen {
		if ev.Ts > newest {
			newest = ev.Ts
		}
	}
	for _, it := range audio {
		if it.Ts > newest {
			newest = it.Ts
		}
	}

	return &ContextWindow{
		ScreenEvents:  screen,
		AudioEntries:  audio,
		AppHistory:    history,
		CurrentApp:    NormalizeAppName(currentApp),
		NewestEventTs: newest,
		AssembledAt:   now,
		AgeBound:      age,
		Preset:        preset,
	}
}

// appChain collapses an event slice, still in push order, to the chain of
// distinct adjacent app values. Non-adjacent repeats are kept.
func appChain(events []buffer.SenseEvent) []buffer.AppTransition {
	var out []buffer.AppTransition
	for _, ev := range events {
		app := ev.Meta.App
		if app == "" {
			continue
		}
		if len(out) > 0 && out[len(out)-1].App == app {
			continue
		}
		out = append(out, buffer.AppTransition{App: app, Ts: ev.Ts})
	}
	return out
}
