package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sinain/sinain-core/internal/common/logger"
)

// modelCooldown keeps a failing model out of rotation for a while, as long
// as at least one other model remains eligible.
const modelCooldown = 5 * time.Minute

// ErrModelUnavailable is returned once the whole chain has been exhausted.
var ErrModelUnavailable = errors.New("all models in the chain failed")

// Chain walks [primary, fallbacks...] until one model answers. Any request
// error advances to the next model; transient failures additionally put the
// model into a cooldown so later ticks skip it.
type Chain struct {
	client    Client
	primary   string
	fallbacks []string
	log       *logger.Logger

	mu        sync.Mutex
	cooldowns map[string]time.Time
	now       func() time.Time
}

// NewChain creates a chain over client.
func NewChain(client Client, primary string, fallbacks []string, log *logger.Logger) *Chain {
	return &Chain{
		client:    client,
		primary:   primary,
		fallbacks: fallbacks,
		log:       log,
		cooldowns: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Complete tries each eligible model in order and returns the first success.
func (c *Chain) Complete(ctx context.Context, system, user string) (*Result, error) {
	models := c.eligibleModels()
	if len(models) == 0 {
		return nil, fmt.Errorf("%w: every model is cooling down", ErrModelUnavailable)
	}

	var lastErr error
	for i, model := range models {
		res, err := c.client.Complete(ctx, model, system, user)
		if err == nil {
			if i > 0 {
				c.log.Info("Fallback model answered",
					zap.String("model", model),
					zap.Int("attempt", i+1))
			}
			return res, nil
		}

		lastErr = err
		if IsTransientError(err) {
			c.setCooldown(model)
		}
		c.log.WithError(err).Warn("Model call failed, advancing chain",
			zap.String("model", model),
			zap.Int("attempt", i+1))

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, lastErr)
}

// eligibleModels returns the ordered chain minus cooled-down entries. When
// every model is cooling down, the full chain is returned so a tick is never
// starved by stale cooldowns.
func (c *Chain) eligibleModels() []string {
	all := make([]string, 0, 1+len(c.fallbacks))
	all = append(all, c.primary)
	for _, m := range c.fallbacks {
		if m != c.primary {
			all = append(all, m)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	eligible := make([]string, 0, len(all))
	for _, m := range all {
		if end, ok := c.cooldowns[m]; ok && now.Before(end) {
			continue
		}
		eligible = append(eligible, m)
	}
	if len(eligible) == 0 {
		return all
	}
	return eligible
}

func (c *Chain) setCooldown(model string) {
	c.mu.Lock()
	c.cooldowns[model] = c.now().Add(modelCooldown)
	c.mu.Unlock()
}
