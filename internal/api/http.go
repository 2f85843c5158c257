package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Tiger-Du/ollama-gateway/internal/obs"
	"github.com/Tiger-Du/ollama-gateway/internal/ollama"
	"github.com/Tiger-Du/ollama-gateway/internal/prompt"
	"github.com/Tiger-Du/ollama-gateway/internal/timer"
)

const (
	DefaultServiceName = "ollama-monitoring-api"

	maxBodyBytes  = 1 << 20
	healthTimeout = 10 * time.Second
)

// Backend is the part of *ollama.Client the handlers use.
type Backend interface {
	Generate(ctx context.Context, req ollama.GenerateRequest) (*ollama.GenerateResult, error)
	Probe(ctx context.Context) (ollama.HealthStatus, error)
	ListModels(ctx context.Context) (*ollama.ModelList, error)
	BaseURL() string
}

type ChatRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
	Stream bool   `json:"stream"`
}

type StructuredChatRequest struct {
	Query   string `json:"query"`
	Model   string `json:"model,omitempty"`
	Stream  bool   `json:"stream"`
	Rules   string `json:"rules,omitempty"`
	Context string `json:"context,omitempty"`
}

type ChatResponse struct {
	Response   string  `json:"response"`
	Model      string  `json:"model"`
	DurationMs float64 `json:"duration_ms"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type HTTP struct {
	backend Backend
	metrics *obs.Metrics
	logger  *zap.Logger

	defaultModel string
	serviceName  string
	version      string

	genOptions  map[string]any
	allowStream bool

	chatMW func(http.Handler) http.Handler // optional
}

type Option func(*HTTP)

func WithDefaultModel(model string) Option {
	return func(h *HTTP) { h.defaultModel = model }
}

func WithLogger(l *zap.Logger) Option {
	return func(h *HTTP) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithVersion(v string) Option {
	return func(h *HTTP) { h.version = v }
}

// WithGenerateOptions are sent with every generation, e.g. {"num_ctx": 4096}.
func WithGenerateOptions(o map[string]any) Option {
	return func(h *HTTP) { h.genOptions = o }
}

// WithStreaming(false) ignores the client's stream flag.
func WithStreaming(enabled bool) Option {
	return func(h *HTTP) { h.allowStream = enabled }
}

// WithChatMiddleware wraps the generation routes only (rate limiting).
func WithChatMiddleware(mw func(http.Handler) http.Handler) Option {
	return func(h *HTTP) { h.chatMW = mw }
}

func New(backend Backend, metrics *obs.Metrics, opts ...Option) *HTTP {
	if backend == nil {
		panic("api: backend must not be nil")
	}
	if metrics == nil {
		metrics = obs.New(nil)
	}
	h := &HTTP{
		backend:     backend,
		metrics:     metrics,
		logger:      zap.NewNop(),
		serviceName: DefaultServiceName,
		version:     "dev",
		allowStream: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTP) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /health/ollama", h.handleBackendHealth)
	mux.Handle("GET /metrics", h.metrics.Handler())
	mux.HandleFunc("GET /models", h.handleModels)

	chat := http.Handler(http.HandlerFunc(h.handleChat))
	structured := http.Handler(http.HandlerFunc(h.handleChatStructured))
	if h.chatMW != nil {
		chat = h.chatMW(chat)
		structured = h.chatMW(structured)
	}
	mux.Handle("POST /chat", chat)
	mux.Handle("POST /chat/structured", structured)

	return withRequestID(h.accessLog(mux))
}

func (h *HTTP) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Ollama Monitoring API",
		"version": h.version,
	})
}

func (h *HTTP) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": h.serviceName,
	})
}

func (h *HTTP) handleBackendHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status, err := h.backend.Probe(ctx)
	h.metrics.SetBackendUp(status == ollama.Healthy)

	switch status {
	case ollama.Healthy:
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": "ollama",
			"url":     h.backend.BaseURL(),
		})
	case ollama.Unhealthy:
		h.logger.Warn("backend unhealthy", zap.String("req_id", requestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Ollama service is unhealthy")
	default:
		h.logger.Warn("backend unreachable", zap.String("req_id", requestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Failed to connect to Ollama: "+errText(err))
	}
}

func (h *HTTP) handleModels(w http.ResponseWriter, r *http.Request) {
	list, err := h.backend.ListModels(r.Context())
	if err != nil {
		h.logger.Warn("list models failed", zap.String("req_id", requestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusBadGateway, "Failed to list models: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *HTTP) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	h.generate(w, r, "/chat", ollama.GenerateRequest{
		Model:   h.resolveModel(req.Model),
		Prompt:  req.Prompt,
		Stream:  req.Stream && h.allowStream,
		Options: h.genOptions,
	})
}

func (h *HTTP) handleChatStructured(w http.ResponseWriter, r *http.Request) {
	var req StructuredChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	h.generate(w, r, "/chat/structured", ollama.GenerateRequest{
		Model:   h.resolveModel(req.Model),
		Prompt:  prompt.Build(req.Query, req.Rules, req.Context),
		Stream:  req.Stream && h.allowStream,
		Options: h.genOptions,
	})
}

func (h *HTTP) resolveModel(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return h.defaultModel
}

func (h *HTTP) generate(w http.ResponseWriter, r *http.Request, endpoint string, req ollama.GenerateRequest) {
	reqID := requestID(r.Context())

	resp, err := h.forward(r.Context(), endpoint, req)
	if err != nil {
		h.logger.Error("generation failed",
			zap.String("req_id", reqID),
			zap.String("endpoint", endpoint),
			zap.String("model", req.Model),
			zap.String("error_type", ollama.Kind(err)),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Error communicating with Ollama: "+err.Error())
		return
	}

	h.logger.Info("generation ok",
		zap.String("req_id", reqID),
		zap.String("endpoint", endpoint),
		zap.String("model", resp.Model),
		zap.Float64("duration_ms", resp.DurationMs),
	)
	writeJSON(w, http.StatusOK, resp)
}

// forward makes one instrumented backend call. The active gauge is released on
// every return path.
func (h *HTTP) forward(ctx context.Context, endpoint string, req ollama.GenerateRequest) (ChatResponse, error) {
	defer h.metrics.TrackActive()()

	res, tm, err := timer.MeasureValue(func() (*ollama.GenerateResult, error) {
		return h.backend.Generate(ctx, req)
	})
	h.metrics.ObserveLatency(http.MethodPost, endpoint, tm.Duration())

	if err != nil {
		h.metrics.ErrorObserved(ollama.Kind(err))
		h.metrics.RequestCompleted(http.MethodPost, endpoint, obs.StatusError)
		return ChatResponse{}, err
	}

	h.metrics.RequestCompleted(http.MethodPost, endpoint, obs.StatusSuccess)
	h.metrics.TokensProcessed(req.Model, res.PromptTokens+res.CompletionTokens)

	return ChatResponse{
		Response:   res.Response,
		Model:      req.Model,
		DurationMs: tm.DurationMs(),
	}, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return errors.New("bad json")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
