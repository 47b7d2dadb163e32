// Package llm wraps the chat-completion provider behind a small interface
// and walks an ordered fallback chain when a model is unreachable.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// requestTimeout bounds a single completion call.
const requestTimeout = 15 * time.Second

// ErrEmptyCompletion is returned when the provider answers with no choices.
var ErrEmptyCompletion = errors.New("model returned an empty completion")

// Result is one successful completion with its cost accounting.
type Result struct {
	Text         string
	Model        string
	LatencyMs    int64
	InputTokens  int
	OutputTokens int
	Cost         float64 // USD, zero for unpriced models
}

// Client issues one chat completion against one named model.
type Client interface {
	Complete(ctx context.Context, model, system, user string) (*Result, error)
}

// OpenAIClient talks to any OpenAI-compatible chat-completion endpoint.
type OpenAIClient struct {
	client      *openai.Client
	maxTokens   int64
	temperature float64
	now         func() time.Time
}

// NewOpenAIClient creates a client. baseURL may be empty for the default
// provider endpoint.
func NewOpenAIClient(apiKey, baseURL string, maxTokens int, temperature float64) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(requestTimeout),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	return &OpenAIClient{
		client:      &client,
		maxTokens:   int64(maxTokens),
		temperature: temperature,
		now:         time.Now,
	}
}

// Complete issues one chat completion and records latency and token usage.
func (c *OpenAIClient) Complete(ctx context.Context, model, system, user string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	start := c.now()
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		MaxTokens:   openai.Int(c.maxTokens),
		Temperature: openai.Float(c.temperature),
	})
	latency := c.now().Sub(start).Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("completion request failed for %s: %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	in := int(resp.Usage.PromptTokens)
	out := int(resp.Usage.CompletionTokens)
	return &Result{
		Text:         resp.Choices[0].Message.Content,
		Model:        model,
		LatencyMs:    latency,
		InputTokens:  in,
		OutputTokens: out,
		Cost:         EstimateCost(model, in, out),
	}, nil
}

// IsTransientError reports whether err looks like a transport or server
// failure worth trying the next model for. Parse and validation errors from
// the provider are not transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	for _, pattern := range []string{
		"context deadline exceeded",
		"connection refused",
		"connection reset",
		"timeout",
		"no such host",
		"429",
		"too many requests",
		"rate limit",
		"500 internal",
		"502 bad gateway",
		"503 service unavailable",
		"overloaded",
		"capacity",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
