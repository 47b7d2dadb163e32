package main

import (
	"context"
	"sync"

	"github.com/sinain/sinain-core/internal/assistant"
	"github.com/sinain/sinain-core/internal/common/logger"
)

// rpcGate starts and stops the assistant RPC socket as the escalation mode
// crosses the off boundary. The socket reconnects on its own while active.
type rpcGate struct {
	mu     sync.Mutex
	parent context.Context
	cancel context.CancelFunc
	rpc    *assistant.RPCClient
	url    string
	log    *logger.Logger
}

func (g *rpcGate) setActive(active bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if active {
		if g.cancel != nil {
			return
		}
		if g.url == "" {
			g.log.Warn("Escalation active but no gateway URL configured; RPC disabled")
			return
		}
		ctx, cancel := context.WithCancel(g.parent)
		g.cancel = cancel
		go g.rpc.Run(ctx)
		g.log.Info("Assistant RPC socket started")
		return
	}

	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
		g.log.Info("Assistant RPC socket stopped")
	}
}
