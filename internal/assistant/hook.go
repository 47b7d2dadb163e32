package assistant

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

const hookTimeout = 10 * time.Second

// HookClient posts wake-up messages to the assistant's HTTP hook. It is the
// fallback transport: fire-and-forget, no reply is captured.
type HookClient struct {
	url        string
	token      string
	sessionKey string
	httpClient *http.Client
}

// NewHookClient creates a hook client. An empty url disables it.
func NewHookClient(url, token, sessionKey string) *HookClient {
	return &HookClient{
		url:        url,
		token:      token,
		sessionKey: sessionKey,
		httpClient: &http.Client{Timeout: hookTimeout},
	}
}

// Available reports whether a hook URL is configured.
func (h *HookClient) Available() bool { return h.url != "" }

// Send posts message to the hook. Any non-2xx status is an error.
func (h *HookClient) Send(ctx context.Context, message string) error {
	if h.url == "" {
		return fmt.Errorf("no hook URL configured")
	}

	body, err := json.Marshal(map[string]interface{}{
		"message":    message,
		"name":       "sinain-core",
		"sessionKey": h.sessionKey,
		"wakeMode":   "now",
		"deliver":    false,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal hook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build hook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("hook returned status %d", resp.StatusCode)
	}
	return nil
}
