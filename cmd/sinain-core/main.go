// Package main is the entry point for sinain-core. The single binary runs
// the ingest surface, the tick engine, the escalation orchestrator and the
// overlay fan-out together with shared infrastructure.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sinain/sinain-core/internal/analyzer"
	"github.com/sinain/sinain-core/internal/assistant"
	"github.com/sinain/sinain-core/internal/buffer"
	"github.com/sinain/sinain-core/internal/capture"
	"github.com/sinain/sinain-core/internal/common/config"
	"github.com/sinain/sinain-core/internal/common/logger"
	"github.com/sinain/sinain-core/internal/escalation"
	"github.com/sinain/sinain-core/internal/events"
	eventbus "github.com/sinain/sinain-core/internal/events/bus"
	"github.com/sinain/sinain-core/internal/ingress"
	"github.com/sinain/sinain-core/internal/llm"
	"github.com/sinain/sinain-core/internal/overlay"
	"github.com/sinain/sinain-core/internal/situation"
	"github.com/sinain/sinain-core/internal/telemetry"
	"github.com/sinain/sinain-core/internal/window"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting sinain-core...")

	// 3. Create context with cancellation. Long-running loops join one
	// errgroup so a failing component tears the process down cleanly.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// 4. Initialize event bus (in-memory by default, NATS if configured)
	eventBus, closeBus, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer closeBus()

	// 5. Buffers
	feed := buffer.NewFeedBuffer(buffer.DefaultFeedCapacity)
	sense := buffer.NewSenseBuffer(buffer.DefaultSenseCapacity)

	// 6. Telemetry
	tracer := telemetry.NewTracer()
	journalDir := ""
	if cfg.Trace.Enabled {
		journalDir = cfg.Trace.Dir
	}
	journal := telemetry.NewJournal(journalDir, log)
	profiler := telemetry.NewProfiler(log)
	profiler.OnSample(func(s telemetry.Snapshot) {
		msg := overlay.ProfilingMessage{
			Type:    overlay.TypeProfiling,
			RSSMb:   s.Core.RSSMb,
			UptimeS: s.Core.UptimeS,
			Ts:      s.Core.Ts,
		}
		if pubErr := eventBus.Publish(ctx, events.ProfilingUpdated,
			eventbus.NewEvent(events.ProfilingUpdated, "profiler", msg)); pubErr != nil {
			log.WithError(pubErr).Warn("Failed to publish profiling snapshot")
		}
	})
	g.Go(func() error {
		profiler.Run(gctx)
		return nil
	})

	// 7. Situation snapshot file
	snapshot := situation.NewWriter(cfg.Situation.MdPath, cfg.Situation.MdEnabled, log)

	// 8. Model chain
	llmClient := llm.NewOpenAIClient(cfg.Agent.APIKey, cfg.Agent.APIBase,
		cfg.Agent.MaxTokens, cfg.Agent.Temperature)
	chain := llm.NewChain(llmClient, cfg.Agent.Model, cfg.Agent.FallbackModels, log)

	// 9. Assistant transports
	rpc := assistant.NewRPCClient(cfg.OpenClaw.GatewayWsURL, cfg.OpenClaw.GatewayToken,
		cfg.OpenClaw.SessionKey, log)
	hook := assistant.NewHookClient(cfg.OpenClaw.HookURL, cfg.OpenClaw.HookToken,
		cfg.OpenClaw.SessionKey)

	// 10. Escalation orchestrator. The RPC socket only runs while the
	// escalation mode is not off.
	orch := escalation.NewOrchestrator(escalation.Mode(cfg.Escalation.Mode),
		cfg.Escalation.CooldownDuration(), rpc, hook, feed, eventBus, log)
	gate := &rpcGate{parent: ctx, rpc: rpc, url: cfg.OpenClaw.GatewayWsURL, log: log}
	orch.OnModeChange(gate.setActive)
	gate.setActive(orch.Mode() != escalation.ModeOff)

	// 11. Tick engine
	engine := analyzer.NewEngine(analyzer.Config{
		Debounce:    cfg.Agent.DebounceDuration(),
		MaxInterval: cfg.Agent.MaxIntervalDuration(),
		Cooldown:    cfg.Agent.CooldownDuration(),
		MaxAge:      cfg.Agent.MaxAgeDuration(),
		Preset:      window.PresetByName(cfg.Agent.Richness),
		PushToFeed:  cfg.Agent.PushToFeed,
	}, feed, sense, chain, tracer, journal, profiler, snapshot, orch, eventBus, log)
	switch {
	case !cfg.Agent.Enabled:
		log.Info("Tick engine disabled by configuration")
	case !cfg.Agent.ModelConfigured():
		log.Warn("Tick engine disabled: agent.model and agent.apiKey are required")
	default:
		g.Go(func() error {
			engine.Run(gctx)
			return nil
		})
	}

	// 12. Capture controller
	ctrl := capture.NewController(cfg.Transcriber.MaxPending, cfg.Transcriber.PrimaryDevice,
		cfg.Transcriber.AlternateDevice, feed, eventBus, engine, log)

	// 13. Overlay fan-out
	hub := overlay.NewHub(ctrl, orch, profiler, engine, log)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if err := overlay.AttachBus(hub, eventBus); err != nil {
		log.Fatal("Failed to attach overlay hub to event bus", zap.Error(err))
	}
	wsHandler := overlay.NewHandler(hub, log)

	// 14. HTTP + WebSocket server
	server := ingress.NewServer(feed, sense, ctrl, profiler, tracer, engine, orch,
		wsHandler, eventBus, log)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.WSPort)
	g.Go(func() error {
		return server.Run(gctx, addr)
	})

	log.Info("sinain-core ready",
		zap.String("addr", addr),
		zap.String("websocket", "/ws"),
		zap.String("escalation_mode", string(orch.Mode())),
		zap.Bool("agent_enabled", cfg.Agent.Enabled))

	// ============================================
	// GRACEFUL SHUTDOWN
	// ============================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		log.Info("Shutting down sinain-core...", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := g.Wait(); err != nil {
		log.Error("Component failed", zap.Error(err))
	}

	if err := journal.Close(); err != nil {
		log.Error("Trace journal close error", zap.Error(err))
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := telemetry.OtelShutdown(shutdownCtx); err != nil {
		log.Error("Trace exporter shutdown error", zap.Error(err))
	}

	log.Info("sinain-core stopped")
}
