package overlay

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sinain/sinain-core/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024

	// heartbeatPeriod drives both the protocol ping and the hub's app-level
	// liveness round.
	heartbeatPeriod = 10 * time.Second

	// closeStale is sent when a client misses a heartbeat round.
	closeStale = 4000
)

// Client is one connected overlay. Outbound messages go through a buffered
// send channel; a full buffer drops the message rather than blocking the
// broadcaster.
type Client struct {
	ID        string
	conn      *websocket.Conn
	hub       *Hub
	send      chan []byte
	alive     atomic.Bool
	closeCode atomic.Int32
	log       *logger.Logger
}

// NewClient wraps an accepted connection.
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	c := &Client{
		ID:   id,
		conn: conn,
		hub:  hub,
		send: make(chan []byte, 256),
		log:  log.WithFields(zap.String("client_id", id)),
	}
	c.alive.Store(true)
	c.closeCode.Store(websocket.CloseGoingAway)
	return c
}

// ReadPump pumps inbound messages until the connection drops. Any inbound
// traffic counts as liveness.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("Overlay read error")
			}
			return
		}
		c.alive.Store(true)

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.WithError(err).Warn("Failed to parse overlay message")
			continue
		}
		msg.Raw = data
		c.hub.handleInbound(c, &msg)
	}
}

// WritePump drains the send channel onto the socket and issues the protocol
// ping. When the hub closes the channel the stored close code is sent.
func (c *Client) WritePump() {
	ticker := time.NewTicker(heartbeatPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(int(c.closeCode.Load()), ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues data for delivery, dropping on a full buffer.
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		c.log.Warn("Overlay send buffer full, dropping message")
	}
}
