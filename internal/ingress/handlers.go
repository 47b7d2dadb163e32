package ingress

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sinain/sinain-core/internal/analyzer"
	"github.com/sinain/sinain-core/internal/buffer"
	"github.com/sinain/sinain-core/internal/capture"
	"github.com/sinain/sinain-core/internal/escalation"
	"github.com/sinain/sinain-core/internal/events"
	eventbus "github.com/sinain/sinain-core/internal/events/bus"
	"github.com/sinain/sinain-core/internal/telemetry"
)

func (s *Server) publishEvent(subject string, data interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(context.Background(), subject,
		eventbus.NewEvent(subject, "ingress", data)); err != nil {
		s.log.WithError(err).Warn("Failed to publish ingress event", zap.String("subject", subject))
	}
}

// errorResponse is the uniform error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

// healthResponse aggregates the subsystem snapshots for /health.
type healthResponse struct {
	Status     string               `json:"status"`
	Tick       analyzer.Status      `json:"tick"`
	Escalation escalation.Stats     `json:"escalation"`
	Capture    capture.Stats        `json:"capture"`
	Traces     telemetry.TraceStats `json:"traces"`
	Profiling  telemetry.Snapshot   `json:"profiling"`
	FeedSize   int                  `json:"feedSize"`
	SenseSize  int                  `json:"senseSize"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:     "ok",
		Tick:       s.engine.Status(),
		Escalation: s.escalator.Stats(),
		Capture:    s.capture.Stats(),
		Traces:     s.tracer.Stats(),
		Profiling:  s.profiler.Snapshot(),
		FeedSize:   s.feed.Size(),
		SenseSize:  s.sense.Size(),
	})
}

func (s *Server) handleSensePost(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSenseBody)

	var ev buffer.SenseEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"ok": false, "error": "sense event exceeds 2 MiB"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid sense event: " + err.Error()})
		return
	}

	stored, err := s.sense.Push(ev)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}

	s.publishEvent(events.SenseEventReceived, stored)
	s.engine.Notify()
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": stored.ID})
}

func (s *Server) handleSenseGet(c *gin.Context) {
	after := parseUint(c.Query("after"))
	metaOnly := c.Query("meta_only") == "true" || c.Query("meta_only") == "1"
	evs := s.sense.Query(after, metaOnly)
	c.JSON(http.StatusOK, gin.H{"events": evs, "version": s.sense.Version()})
}

func (s *Server) handleFeedPost(c *gin.Context) {
	var item buffer.FeedItem
	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid feed item: " + err.Error()})
		return
	}

	stored, err := s.feed.Push(item)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	s.publishEvent(events.FeedItemPushed, stored)
	s.engine.Notify()
	c.JSON(http.StatusOK, gin.H{"id": stored.ID})
}

func (s *Server) handleFeedGet(c *gin.Context) {
	after := parseUint(c.Query("after"))
	items := s.feed.QueryVisible(after)
	c.JSON(http.StatusOK, gin.H{"items": items, "version": s.feed.Version()})
}

func (s *Server) handleProfilingSense(c *gin.Context) {
	var snapshot map[string]interface{}
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid profiling payload: " + err.Error()})
		return
	}
	s.profiler.ReportScreenClient(snapshot)
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

type agentConfigRequest struct {
	EscalationMode string `json:"escalationMode"`
}

func (s *Server) handleAgentConfig(c *gin.Context) {
	var req agentConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid config payload: " + err.Error()})
		return
	}

	if !escalation.ValidMode(req.EscalationMode) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown escalation mode: " + req.EscalationMode})
		return
	}

	mode := escalation.Mode(req.EscalationMode)
	s.escalator.SetMode(mode)
	s.log.Info("Escalation mode changed", zap.String("mode", string(mode)))
	c.JSON(http.StatusOK, gin.H{"escalationMode": mode})
}

func (s *Server) handleTraces(c *gin.Context) {
	after, _ := strconv.ParseInt(c.Query("after"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))
	c.JSON(http.StatusOK, gin.H{
		"traces": s.tracer.GetTraces(after, limit),
		"stats":  s.tracer.Stats(),
	})
}

func parseUint(raw string) uint64 {
	v, _ := strconv.ParseUint(raw, 10, 64)
	return v
}
