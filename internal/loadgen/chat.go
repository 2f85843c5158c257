package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to a running gateway over HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type ChatReply struct {
	Response   string  `json:"response"`
	Model      string  `json:"model"`
	DurationMs float64 `json:"duration_ms"`
}

// ChatTarget posts prompt to /chat; an empty model lets the gateway choose.
func (c *Client) ChatTarget(prompt, model string) Target {
	return func(ctx context.Context) (int, error) {
		status, _, err := c.chat(ctx, prompt, model)
		return status, err
	}
}

func (c *Client) Chat(ctx context.Context, prompt, model string) (*ChatReply, error) {
	status, body, err := c.chat(ctx, prompt, model)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("POST /chat: status %d: %s", status, strings.TrimSpace(string(body)))
	}
	var out ChatReply
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode /chat reply: %w", err)
	}
	return &out, nil
}

func (c *Client) chat(ctx context.Context, prompt, model string) (int, []byte, error) {
	payload := map[string]string{"prompt": prompt}
	if model != "" {
		payload["model"] = model
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat", bytes.NewReader(b))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, body, err
}

// Get returns the status of a GET on path.
func (c *Client) Get(ctx context.Context, path string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
