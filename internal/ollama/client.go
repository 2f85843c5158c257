// Package ollama is a typed HTTP client for an Ollama inference backend.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Tiger-Du/ollama-gateway/internal/retry"
)

const (
	pathGenerate = "/api/generate"
	pathTags     = "/api/tags"
	pathPull     = "/api/pull"

	maxErrorBody = 4 << 10
)

type Config struct {
	BaseURL string
	Timeout time.Duration
	Retry   retry.Policy
}

// Client is safe for concurrent use. It holds one connection pool, released by Close.
type Client struct {
	baseURL   string
	timeout   time.Duration
	policy    retry.Policy
	http      *http.Client
	logger    *zap.Logger
	retryOpts []retry.Option
}

type Option func(*Client)

// WithHTTPClient replaces the default client. Its Timeout is left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRetryOptions passes extra options to every retried call.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(c *Client) { c.retryOpts = append(c.retryOpts, opts...) }
}

func New(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("ollama: base URL is required")
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		baseURL: base,
		timeout: cfg.Timeout,
		policy:  cfg.Retry,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string { return c.baseURL }

// Close releases idle connections held by the client.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// CheckHealth reports whether the backend answers the tag listing with 200.
// It never returns an error.
func (c *Client) CheckHealth(ctx context.Context) bool {
	status, _ := c.Probe(ctx)
	return status == Healthy
}

// Probe is CheckHealth with the reason for a negative answer.
func (c *Client) Probe(ctx context.Context) (HealthStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, pathTags, nil)
	if err != nil {
		return Unreachable, err
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return Unhealthy, c.statusError(resp)
	}
	return Healthy, nil
}

// Generate runs a generation, retrying any failure according to the client's policy.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	opts := append([]retry.Option{retry.WithLogger(c.logger), retry.WithName("generate")}, c.retryOpts...)
	return retry.Do(ctx, c.policy, func(ctx context.Context) (*GenerateResult, error) {
		return c.generateOnce(ctx, req)
	}, opts...)
}

func (c *Client) generateOnce(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, pathGenerate, body)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.statusError(resp)
	}

	if req.Stream {
		return c.decodeStream(resp.Body)
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, c.readError(pathGenerate, err)
	}
	return resultFrom(raw, stringField(raw, "response")), nil
}

// decodeStream folds Ollama's NDJSON chunks into a single result.
func (c *Client) decodeStream(r io.Reader) (*GenerateResult, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)

	var (
		text strings.Builder
		last map[string]any
	)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk map[string]any
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, &MalformedResponseError{URL: c.baseURL + pathGenerate, Cause: err}
		}
		if msg := stringField(chunk, "error"); msg != "" {
			return nil, &MalformedResponseError{URL: c.baseURL + pathGenerate, Cause: errors.New(msg)}
		}
		text.WriteString(stringField(chunk, "response"))
		last = chunk
	}
	if err := sc.Err(); err != nil {
		return nil, c.readError(pathGenerate, err)
	}
	if last == nil {
		return nil, &MalformedResponseError{URL: c.baseURL + pathGenerate, Cause: errors.New("empty stream")}
	}
	last["response"] = text.String()
	return resultFrom(last, text.String()), nil
}

func resultFrom(raw map[string]any, text string) *GenerateResult {
	return &GenerateResult{
		Response:         text,
		Raw:              raw,
		PromptTokens:     intField(raw, "prompt_eval_count"),
		CompletionTokens: intField(raw, "eval_count"),
	}
}

// ListModels returns the models installed on the backend. Not retried.
func (c *Client) ListModels(ctx context.Context) (*ModelList, error) {
	resp, err := c.do(ctx, http.MethodGet, pathTags, nil)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.statusError(resp)
	}

	var out ModelList
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, c.readError(pathTags, err)
	}
	return &out, nil
}

// PullModel asks the backend to download name and waits for it to finish.
func (c *Client) PullModel(ctx context.Context, name string) error {
	body, err := json.Marshal(map[string]any{"name": name, "stream": false})
	if err != nil {
		return fmt.Errorf("encode pull request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, pathPull, body)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(resp)
	}

	var out struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return c.readError(pathPull, err)
	}
	if out.Error != "" {
		return fmt.Errorf("pull %s: %s", name, out.Error)
	}
	c.logger.Info("model pulled", zap.String("model", name), zap.String("status", out.Status))
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	url := c.baseURL + path

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(url, c.timeout, err)
	}
	return resp, nil
}

func (c *Client) statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		URL:  resp.Request.URL.String(),
		Code: resp.StatusCode,
		Body: strings.TrimSpace(string(b)),
	}
}

// readError separates a body read that timed out from one that was not valid JSON.
func (c *Client) readError(path string, err error) error {
	if isTimeout(err) {
		return &TimeoutError{URL: c.baseURL + path, Timeout: c.timeout, Cause: err}
	}
	return &MalformedResponseError{URL: c.baseURL + path, Cause: err}
}

func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}
