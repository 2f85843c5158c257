package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiger-Du/ollama-gateway/internal/obs"
	"github.com/Tiger-Du/ollama-gateway/internal/ollama"
	"github.com/Tiger-Du/ollama-gateway/internal/retry"
)

type fakeBackend struct {
	generate func(ctx context.Context, req ollama.GenerateRequest) (*ollama.GenerateResult, error)
	status   ollama.HealthStatus
	probeErr error
	models   *ollama.ModelList
	listErr  error
}

func (f *fakeBackend) Generate(ctx context.Context, req ollama.GenerateRequest) (*ollama.GenerateResult, error) {
	return f.generate(ctx, req)
}

func (f *fakeBackend) Probe(context.Context) (ollama.HealthStatus, error) {
	return f.status, f.probeErr
}

func (f *fakeBackend) ListModels(context.Context) (*ollama.ModelList, error) {
	return f.models, f.listErr
}

func (f *fakeBackend) BaseURL() string { return "http://ollama.test:11434" }

func newMetrics() *obs.Metrics {
	return obs.New(nil, obs.WithoutRuntimeMetrics())
}

func newOllama(t *testing.T, url string, maxRetries int) *ollama.Client {
	t.Helper()
	c, err := ollama.New(ollama.Config{
		BaseURL: url,
		Timeout: 2 * time.Second,
		Retry:   retry.Policy{MaxRetries: maxRetries, InitialDelay: time.Millisecond, Multiplier: 2},
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func render(t *testing.T, m *obs.Metrics) string {
	t.Helper()
	out, err := m.Render()
	require.NoError(t, err)
	return out
}

func TestChat_OK(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"hello"}`))
	}))
	defer backend.Close()

	m := newMetrics()
	h := New(newOllama(t, backend.URL, 3), m, WithDefaultModel("default-model")).Routes()

	rr := do(t, h, http.MethodPost, "/chat", `{"prompt":"hi","model":"m1"}`)
	require.Equal(t, http.StatusOK, rr.Code, "body=%s", rr.Body.String())

	var out ChatResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Equal(t, "hello", out.Response)
	require.Equal(t, "m1", out.Model)
	require.Greater(t, out.DurationMs, 0.0)

	metrics := render(t, m)
	require.Contains(t, metrics, `ollama_requests_total{endpoint="/chat",method="POST",status="success"} 1`)
	require.Contains(t, metrics, `ollama_request_duration_seconds_count{endpoint="/chat",method="POST"} 1`)
	require.Contains(t, metrics, "ollama_active_requests 0")
}

func TestChat_BackendErrorRetriesThen500(t *testing.T) {
	var calls atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "out of memory", http.StatusInternalServerError)
	}))
	defer backend.Close()

	m := newMetrics()
	h := New(newOllama(t, backend.URL, 3), m).Routes()

	rr := do(t, h, http.MethodPost, "/chat", `{"prompt":"hi","model":"m1"}`)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, int32(4), calls.Load())

	var out errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.True(t, strings.HasPrefix(out.Detail, "Error communicating with Ollama: "), out.Detail)
	require.Contains(t, out.Detail, "out of memory")

	metrics := render(t, m)
	require.Contains(t, metrics, `ollama_errors_total{error_type="StatusError"} 1`)
	require.Contains(t, metrics, `ollama_requests_total{endpoint="/chat",method="POST",status="error"} 1`)
	require.NotContains(t, metrics, `status="success"`)
	require.Contains(t, metrics, "ollama_active_requests 0")
}

func TestChat_DefaultModel(t *testing.T) {
	var gotModel string
	fb := &fakeBackend{generate: func(_ context.Context, req ollama.GenerateRequest) (*ollama.GenerateResult, error) {
		gotModel = req.Model
		return &ollama.GenerateResult{Response: "ok", PromptTokens: 3, CompletionTokens: 5}, nil
	}}
	m := newMetrics()
	h := New(fb, m, WithDefaultModel("qwen2.5:7b-instruct-q4_0")).Routes()

	rr := do(t, h, http.MethodPost, "/chat", `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "qwen2.5:7b-instruct-q4_0", gotModel)
	require.Contains(t, rr.Body.String(), `"model":"qwen2.5:7b-instruct-q4_0"`)
	require.Contains(t, render(t, m), `ollama_tokens_processed_total{model="qwen2.5:7b-instruct-q4_0"} 8`)
}

func TestChat_Validation(t *testing.T) {
	fb := &fakeBackend{generate: func(context.Context, ollama.GenerateRequest) (*ollama.GenerateResult, error) {
		t.Fatal("backend must not be called")
		return nil, nil
	}}
	m := newMetrics()
	h := New(fb, m).Routes()

	rr := do(t, h, http.MethodPost, "/chat", "nope")
	require.Equal(t, http.StatusBadRequest, rr.Code, "body=%s", rr.Body.String())

	rr = do(t, h, http.MethodPost, "/chat", `{"prompt":"   "}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/chat/structured", `{"rules":"x"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	require.NotContains(t, render(t, m), "ollama_requests_total{")
}

func TestChat_MethodNotAllowed(t *testing.T) {
	h := New(&fakeBackend{}, newMetrics()).Routes()

	rr := do(t, h, http.MethodGet, "/chat", "")
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestChatStructured_BuildsPrompt(t *testing.T) {
	var gotPrompt string
	fb := &fakeBackend{generate: func(_ context.Context, req ollama.GenerateRequest) (*ollama.GenerateResult, error) {
		gotPrompt = req.Prompt
		return &ollama.GenerateResult{Response: "Un pod est..."}, nil
	}}
	m := newMetrics()
	h := New(fb, m, WithDefaultModel("m1")).Routes()

	rr := do(t, h, http.MethodPost, "/chat/structured", `{"query":"What is a pod?","rules":"RULES: one line"}`)
	require.Equal(t, http.StatusOK, rr.Code, "body=%s", rr.Body.String())
	require.True(t, strings.HasPrefix(gotPrompt, "RULES: one line\n\n"))
	require.Contains(t, gotPrompt, "CONTEXT:")
	require.True(t, strings.HasSuffix(gotPrompt, "USER QUERY:\nWhat is a pod?"))
	require.Contains(t, render(t, m), `ollama_requests_total{endpoint="/chat/structured",method="POST",status="success"} 1`)
}

func TestChat_ActiveGaugeReturnsToBaseline(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		code int
	}{
		{name: "success", code: http.StatusOK},
		{name: "failure", err: &ollama.ConnectionError{URL: "x", Cause: errors.New("refused")}, code: http.StatusInternalServerError},
	} {
		t.Run(tc.name, func(t *testing.T) {
			entered := make(chan struct{})
			release := make(chan struct{})
			fb := &fakeBackend{generate: func(context.Context, ollama.GenerateRequest) (*ollama.GenerateResult, error) {
				close(entered)
				<-release
				if tc.err != nil {
					return nil, tc.err
				}
				return &ollama.GenerateResult{Response: "ok"}, nil
			}}
			m := newMetrics()
			h := New(fb, m, WithDefaultModel("m1")).Routes()
			require.Contains(t, render(t, m), "ollama_active_requests 0")

			done := make(chan *httptest.ResponseRecorder)
			go func() {
				rr := httptest.NewRecorder()
				h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"prompt":"hi"}`)))
				done <- rr
			}()

			<-entered
			require.Contains(t, render(t, m), "ollama_active_requests 1")
			close(release)

			rr := <-done
			require.Equal(t, tc.code, rr.Code)
			require.Contains(t, render(t, m), "ollama_active_requests 0")
		})
	}
}

func TestChat_ErrorKindLabel(t *testing.T) {
	fb := &fakeBackend{generate: func(context.Context, ollama.GenerateRequest) (*ollama.GenerateResult, error) {
		return nil, &ollama.TimeoutError{URL: "http://ollama.test/api/generate", Timeout: time.Second}
	}}
	m := newMetrics()
	h := New(fb, m).Routes()

	rr := do(t, h, http.MethodPost, "/chat", `{"prompt":"hi","model":"m1"}`)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Contains(t, rr.Body.String(), "timed out")
	require.Contains(t, render(t, m), `ollama_errors_total{error_type="TimeoutError"} 1`)
}

func TestChat_ClientGoneIsLabelledCanceled(t *testing.T) {
	fb := &fakeBackend{generate: func(context.Context, ollama.GenerateRequest) (*ollama.GenerateResult, error) {
		return nil, &ollama.ConnectionError{URL: "http://ollama.test/api/generate", Cause: context.Canceled}
	}}
	m := newMetrics()
	h := New(fb, m).Routes()

	do(t, h, http.MethodPost, "/chat", `{"prompt":"hi","model":"m1"}`)
	out := render(t, m)
	require.Contains(t, out, `ollama_errors_total{error_type="Canceled"} 1`)
	require.NotContains(t, out, `error_type="ConnectionError"`)
}

func TestHealth(t *testing.T) {
	h := New(&fakeBackend{}, newMetrics()).Routes()

	rr := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"healthy","service":"ollama-monitoring-api"}`, rr.Body.String())
}

func TestBackendHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		m := newMetrics()
		h := New(&fakeBackend{status: ollama.Healthy}, m).Routes()

		rr := do(t, h, http.MethodGet, "/health/ollama", "")
		require.Equal(t, http.StatusOK, rr.Code)
		require.JSONEq(t, `{"status":"healthy","service":"ollama","url":"http://ollama.test:11434"}`, rr.Body.String())
		require.Contains(t, render(t, m), "ollama_backend_up 1")
	})

	t.Run("unhealthy", func(t *testing.T) {
		m := newMetrics()
		fb := &fakeBackend{status: ollama.Unhealthy, probeErr: &ollama.StatusError{Code: 500}}
		h := New(fb, m).Routes()

		rr := do(t, h, http.MethodGet, "/health/ollama", "")
		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
		require.Contains(t, rr.Body.String(), "Ollama service is unhealthy")
		require.Contains(t, render(t, m), "ollama_backend_up 0")
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		h := New(newOllama(t, url, 0), newMetrics()).Routes()

		rr := do(t, h, http.MethodGet, "/health/ollama", "")
		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
		require.Contains(t, rr.Body.String(), "Failed to connect to Ollama")
	})
}

func TestMetricsEndpoint_IdempotentAtRest(t *testing.T) {
	fb := &fakeBackend{generate: func(context.Context, ollama.GenerateRequest) (*ollama.GenerateResult, error) {
		return &ollama.GenerateResult{Response: "ok"}, nil
	}}
	h := New(fb, newMetrics(), WithDefaultModel("m1")).Routes()
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/chat", `{"prompt":"hi"}`).Code)

	first := do(t, h, http.MethodGet, "/metrics", "")
	second := do(t, h, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, first.Code)
	require.True(t, strings.HasPrefix(first.Header().Get("Content-Type"), "text/plain"))
	require.Equal(t, first.Body.String(), second.Body.String())
	require.Contains(t, first.Body.String(), "ollama_requests_total")
}

func TestModels(t *testing.T) {
	fb := &fakeBackend{models: &ollama.ModelList{Models: []ollama.Model{{Name: "qwen2.5:0.5b", Size: 1}}}}
	h := New(fb, newMetrics()).Routes()

	rr := do(t, h, http.MethodGet, "/models", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"name":"qwen2.5:0.5b"`)

	fb.models, fb.listErr = nil, &ollama.StatusError{URL: "x", Code: 500}
	rr = do(t, h, http.MethodGet, "/models", "")
	require.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestRoot(t *testing.T) {
	h := New(&fakeBackend{}, newMetrics(), WithVersion("1.2.3")).Routes()

	rr := do(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"message":"Ollama Monitoring API","version":"1.2.3"}`, rr.Body.String())

	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/nope", "").Code)
}

func TestRequestID(t *testing.T) {
	h := New(&fakeBackend{}, newMetrics()).Routes()

	rr := do(t, h, http.MethodGet, "/health", "")
	require.True(t, strings.HasPrefix(rr.Header().Get(HeaderRequestID), "req_"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderRequestID, "abc123")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, "abc123", rr.Header().Get(HeaderRequestID))
}

func TestChatMiddlewareOnlyWrapsChat(t *testing.T) {
	var wrapped atomic.Int32
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped.Add(1)
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		})
	}
	h := New(&fakeBackend{}, newMetrics(), WithChatMiddleware(mw)).Routes()

	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodPost, "/chat", `{"prompt":"hi"}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodPost, "/chat/structured", `{"query":"hi"}`).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)
	require.Equal(t, int32(2), wrapped.Load())
}

func TestChat_GenerateOptionsAndStreaming(t *testing.T) {
	var got ollama.GenerateRequest
	fb := &fakeBackend{generate: func(_ context.Context, req ollama.GenerateRequest) (*ollama.GenerateResult, error) {
		got = req
		return &ollama.GenerateResult{Response: "ok"}, nil
	}}

	h := New(fb, newMetrics(), WithDefaultModel("m1"), WithGenerateOptions(map[string]any{"num_ctx": 4096})).Routes()
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/chat", `{"prompt":"hi","stream":true}`).Code)
	require.True(t, got.Stream)
	require.Equal(t, map[string]any{"num_ctx": 4096}, got.Options)

	h = New(fb, newMetrics(), WithDefaultModel("m1"), WithStreaming(false)).Routes()
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/chat/structured", `{"query":"hi","stream":true}`).Code)
	require.False(t, got.Stream)
	require.Nil(t, got.Options)
}
