// Package ingress is the HTTP surface: sense/feed ingest, control endpoints
// and the overlay websocket upgrade.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sinain/sinain-core/internal/analyzer"
	"github.com/sinain/sinain-core/internal/buffer"
	"github.com/sinain/sinain-core/internal/capture"
	"github.com/sinain/sinain-core/internal/common/httpmw"
	"github.com/sinain/sinain-core/internal/common/logger"
	"github.com/sinain/sinain-core/internal/escalation"
	eventbus "github.com/sinain/sinain-core/internal/events/bus"
	"github.com/sinain/sinain-core/internal/overlay"
	"github.com/sinain/sinain-core/internal/telemetry"
)

// maxSenseBody caps a sense ingest request.
const maxSenseBody = 2 << 20 // 2 MiB

// Engine is the tick engine as the HTTP surface sees it.
type Engine interface {
	Notify()
	Status() analyzer.Status
}

// Escalator is the runtime-configurable escalation surface.
type Escalator interface {
	Mode() escalation.Mode
	SetMode(escalation.Mode)
	Stats() escalation.Stats
}

// Server hosts every HTTP route on one listener.
type Server struct {
	feed      *buffer.FeedBuffer
	sense     *buffer.SenseBuffer
	capture   *capture.Controller
	profiler  *telemetry.Profiler
	tracer    *telemetry.Tracer
	engine    Engine
	escalator Escalator
	bus       eventbus.EventBus

	router *gin.Engine
	log    *logger.Logger
	http   *http.Server
}

// NewServer builds the router: one gin engine, middleware first, then the
// route table.
func NewServer(feed *buffer.FeedBuffer, sense *buffer.SenseBuffer, capture *capture.Controller,
	profiler *telemetry.Profiler, tracer *telemetry.Tracer, engine Engine, escalator Escalator,
	overlayHandler *overlay.Handler, bus eventbus.EventBus, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		feed:      feed,
		sense:     sense,
		capture:   capture,
		profiler:  profiler,
		tracer:    tracer,
		engine:    engine,
		escalator: escalator,
		bus:       bus,
		router:    gin.New(),
		log:       log.WithFields(zap.String("component", "ingress")),
	}

	s.router.Use(gin.Recovery())
	s.router.Use(httpmw.RequestLogger(s.log, "ingress"))
	s.router.Use(httpmw.OtelTracing("ingress"))

	s.router.GET("/health", s.handleHealth)
	s.router.POST("/sense", s.handleSensePost)
	s.router.GET("/sense", s.handleSenseGet)
	s.router.POST("/feed", s.handleFeedPost)
	s.router.GET("/feed", s.handleFeedGet)
	s.router.POST("/profiling/sense", s.handleProfilingSense)
	s.router.POST("/agent/config", s.handleAgentConfig)
	s.router.GET("/traces", s.handleTraces)
	if overlayHandler != nil {
		s.router.GET("/ws", overlayHandler.HandleConnection)
	}
	return s
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", zap.String("addr", addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}
