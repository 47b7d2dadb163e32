package overlay

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sinain/sinain-core/internal/common/logger"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Overlay clients run on the same machine.
		return true
	},
}

// Handler upgrades HTTP requests into overlay connections.
type Handler struct {
	hub *Hub
	log *logger.Logger
}

// NewHandler creates a connection handler for hub.
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{hub: hub, log: log.WithFields(zap.String("component", "overlay_handler"))}
}

// HandleConnection upgrades the request and runs the client pumps.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Error("Failed to upgrade overlay connection")
		return
	}

	client := NewClient(uuid.New().String(), conn, h.hub, h.log)
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump()
}
