package obs

import (
	"bytes"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	namespace = "ollama"
)

// Metrics is the gateway's metric registry. Build one per process with New and
// pass it to whatever reports. All methods are safe for concurrent use.
type Metrics struct {
	reg *prometheus.Registry

	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	active    prometheus.Gauge
	errors    *prometheus.CounterVec
	tokens    *prometheus.CounterVec
	modelInfo *prometheus.GaugeVec
	retries   *prometheus.CounterVec
	backendUp prometheus.Gauge
	limited   prometheus.Counter
}

type config struct {
	buckets        []float64
	runtimeMetrics bool
}

type Option func(*config)

// WithBuckets overrides the request_duration_seconds buckets.
func WithBuckets(b []float64) Option {
	return func(c *config) {
		if len(b) > 0 {
			c.buckets = b
		}
	}
}

// WithoutRuntimeMetrics skips the Go and process collectors.
func WithoutRuntimeMetrics() Option {
	return func(c *config) { c.runtimeMetrics = false }
}

// New registers the gateway metrics on reg, or on a fresh registry if reg is nil.
func New(reg *prometheus.Registry, opts ...Option) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	cfg := config{
		// LLM calls range from sub-second to minutes.
		buckets:        []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		runtimeMetrics: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Metrics{
		reg: reg,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of requests to Ollama",
			},
			[]string{"method", "endpoint", "status"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request latency in seconds",
				Buckets:   cfg.buckets,
			},
			[]string{"method", "endpoint"},
		),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of active requests to Ollama",
		}),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"error_type"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_processed_total",
				Help:      "Total number of tokens processed",
			},
			[]string{"model"},
		),
		modelInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "model_info",
				Help:      "Information about the Ollama model",
			},
			[]string{"model", "version"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of retried backend calls",
			},
			[]string{"operation"},
		),
		backendUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_up",
			Help:      "Result of the last backend health probe (1=healthy, 0=not)",
		}),
		limited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limit",
		}),
	}

	reg.MustRegister(m.requests, m.latency, m.active, m.errors, m.tokens, m.modelInfo, m.retries, m.backendUp, m.limited)
	if cfg.runtimeMetrics {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) RequestCompleted(method, endpoint, status string) {
	m.requests.WithLabelValues(method, endpoint, status).Inc()
}

func (m *Metrics) ObserveLatency(method, endpoint string, d time.Duration) {
	m.latency.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

func (m *Metrics) ErrorObserved(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	m.errors.WithLabelValues(kind).Inc()
}

func (m *Metrics) ActiveInc() { m.active.Inc() }

func (m *Metrics) ActiveDec() { m.active.Dec() }

// TrackActive increments the active gauge and returns the matching decrement.
//
//	defer m.TrackActive()()
func (m *Metrics) TrackActive() func() {
	m.active.Inc()
	return m.active.Dec
}

func (m *Metrics) TokensProcessed(model string, n int) {
	if n <= 0 {
		return
	}
	m.tokens.WithLabelValues(model).Add(float64(n))
}

// SetModelInfo publishes the configured default model as an info-style gauge.
func (m *Metrics) SetModelInfo(model, version string) {
	m.modelInfo.Reset()
	m.modelInfo.WithLabelValues(model, version).Set(1)
}

func (m *Metrics) RetryObserved(operation string) {
	m.retries.WithLabelValues(operation).Inc()
}

func (m *Metrics) SetBackendUp(up bool) {
	if up {
		m.backendUp.Set(1)
		return
	}
	m.backendUp.Set(0)
}

func (m *Metrics) RateLimited() { m.limited.Inc() }

// Handler serves the registry in the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Render returns the whole registry as exposition text. With no traffic in
// between, two renders agree on every ollama_* series; go_* and process_*
// series from the runtime collectors are excluded from that guarantee.
func (m *Metrics) Render() (string, error) {
	mfs, err := m.reg.Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
