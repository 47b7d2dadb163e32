// Package assistant maintains the connection to the external assistant
// gateway: a persistent authenticated websocket for request/response RPC,
// plus a plain HTTP wake hook used as fallback transport.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/sinain/sinain-core/internal/common/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	protocolVersion  = 3
	reconnectDelay   = 5 * time.Second
	connectTimeout   = 10 * time.Second
	writeWait        = 10 * time.Second
	DefaultWaitLimit = 60 * time.Second
)

// ErrNotConnected is returned when a request is issued with no
// authenticated socket.
var ErrNotConnected = errors.New("assistant gateway is not connected")

// frame is the wire envelope shared by requests, responses and events.
type frame struct {
	Type    string              `json:"type"`
	ID      string              `json:"id,omitempty"`
	Method  string              `json:"method,omitempty"`
	Params  interface{}         `json:"params,omitempty"`
	Event   string              `json:"event,omitempty"`
	OK      bool                `json:"ok,omitempty"`
	Payload jsoniter.RawMessage `json:"payload,omitempty"`
	Error   *frameError         `json:"error,omitempty"`
}

type frameError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// WaitPayload is one assistant reply fragment.
type WaitPayload struct {
	Text string `json:"text"`
}

// WaitReply is the outcome of one agent.wait call. Exactly one of the three
// shapes applies: payloads (possibly empty), a gateway-reported error, or a
// timeout. A timeout means the assistant may still be processing; callers
// must not retry.
type WaitReply struct {
	Payloads []WaitPayload
	ErrorMsg string
	TimedOut bool
}

// RPCClient keeps one authenticated socket to the gateway and re-dials every
// 5s after any disconnect.
type RPCClient struct {
	url        string
	token      string
	sessionKey string
	log        *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	pending   map[string]chan *frame
	oneway    map[string]struct{}

	dial func(ctx context.Context, url string) (*websocket.Conn, error)
}

// NewRPCClient creates a client; Run must be called to establish the socket.
func NewRPCClient(url, token, sessionKey string, log *logger.Logger) *RPCClient {
	return &RPCClient{
		url:        url,
		token:      token,
		sessionKey: sessionKey,
		log:        log,
		pending:    make(map[string]chan *frame),
		oneway:     make(map[string]struct{}),
		dial: func(ctx context.Context, url string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return conn, err
		},
	}
}

// IsConnected reports whether the socket is up and authenticated.
func (c *RPCClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Run dials, authenticates and serves the socket until ctx is done,
// reconnecting after every failure.
func (c *RPCClient) Run(ctx context.Context) {
	if c.url == "" {
		return
	}
	for {
		if err := c.runOnce(ctx); err != nil && ctx.Err() == nil {
			c.log.WithError(err).Warn("Gateway connection lost, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *RPCClient) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	conn, err := c.dial(dialCtx, c.url)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to dial gateway: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer c.teardown(conn)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		c.handleFrame(conn, &f)
	}
}

func (c *RPCClient) handleFrame(conn *websocket.Conn, f *frame) {
	switch f.Type {
	case "event":
		if f.Event == "connect.challenge" {
			c.authenticate(conn)
		}
	case "res":
		c.mu.Lock()
		if f.ID != "" && c.pending[f.ID] != nil {
			ch := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			ch <- f
			return
		}
		// Acks for fire-and-forget requests carry no waiter either.
		if _, ok := c.oneway[f.ID]; ok {
			delete(c.oneway, f.ID)
			c.mu.Unlock()
			if !f.OK && f.Error != nil {
				c.log.Warn("Gateway rejected agent request", zap.String("error", f.Error.Message))
			}
			return
		}
		// The connect handshake response has no pending waiter.
		if f.OK {
			c.connected = true
			c.mu.Unlock()
			c.log.Info("Gateway connection authenticated")
			return
		}
		c.mu.Unlock()
		if f.Error != nil {
			c.log.Warn("Gateway rejected authentication", zap.String("error", f.Error.Message))
		}
	default:
		c.log.Debug("Ignoring unknown gateway frame", zap.String("type", f.Type))
	}
}

// authenticate answers the connect challenge.
func (c *RPCClient) authenticate(conn *websocket.Conn) {
	req := frame{
		Type:   "req",
		ID:     uuid.New().String(),
		Method: "connect",
		Params: map[string]interface{}{
			"auth":        map[string]string{"token": c.token},
			"minProtocol": protocolVersion,
			"maxProtocol": protocolVersion,
			"client":      map[string]string{"mode": "backend"},
		},
	}
	if err := c.writeFrame(conn, &req); err != nil {
		c.log.WithError(err).Warn("Failed to send connect request")
	}
}

func (c *RPCClient) writeFrame(conn *websocket.Conn, f *frame) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.mu.Lock()
	defer c.mu.Unlock()
	return conn.WriteJSON(f)
}

func (c *RPCClient) teardown(conn *websocket.Conn) {
	conn.Close()
	c.mu.Lock()
	c.connected = false
	c.conn = nil
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	for id := range c.oneway {
		delete(c.oneway, id)
	}
	c.mu.Unlock()
}

// AgentWait delivers message and blocks for the assistant's reply. A closed
// channel (socket died mid-call) is a network error; an elapsed timeout is a
// typed result, not an error.
func (c *RPCClient) AgentWait(ctx context.Context, message, idemKey string, timeout time.Duration) (*WaitReply, error) {
	if timeout <= 0 {
		timeout = DefaultWaitLimit
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil || !c.connected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := uuid.New().String()
	ch := make(chan *frame, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := frame{
		Type:   "req",
		ID:     id,
		Method: "agent.wait",
		Params: map[string]interface{}{
			"message":    message,
			"idemKey":    idemKey,
			"sessionKey": c.sessionKey,
			"timeoutMs":  timeout.Milliseconds(),
		},
	}
	if err := c.writeFrame(conn, &req); err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("failed to send agent.wait: %w", err)
	}

	select {
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	case <-time.After(timeout):
		c.dropPending(id)
		return &WaitReply{TimedOut: true}, nil
	case res, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if !res.OK {
			msg := "gateway error"
			if res.Error != nil {
				msg = res.Error.Message
			}
			return &WaitReply{ErrorMsg: msg}, nil
		}
		var payload struct {
			Payloads []WaitPayload `json:"payloads"`
		}
		if len(res.Payload) > 0 {
			if err := json.Unmarshal(res.Payload, &payload); err != nil {
				return &WaitReply{ErrorMsg: fmt.Sprintf("malformed payload: %v", err)}, nil
			}
		}
		return &WaitReply{Payloads: payload.Payloads}, nil
	}
}

// Agent delivers message without waiting for the assistant. The gateway ack
// is absorbed; any response surfaces through the assistant's own session.
func (c *RPCClient) Agent(ctx context.Context, message, idemKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil || !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	id := uuid.New().String()
	c.oneway[id] = struct{}{}
	c.mu.Unlock()

	req := frame{
		Type:   "req",
		ID:     id,
		Method: "agent",
		Params: map[string]interface{}{
			"message":    message,
			"idemKey":    idemKey,
			"sessionKey": c.sessionKey,
		},
	}
	if err := c.writeFrame(conn, &req); err != nil {
		c.mu.Lock()
		delete(c.oneway, id)
		c.mu.Unlock()
		return fmt.Errorf("failed to send agent request: %w", err)
	}
	return nil
}

func (c *RPCClient) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
