package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Tiger-Du/ollama-gateway/internal/api"
	"github.com/Tiger-Du/ollama-gateway/internal/infra/redisurl"
	"github.com/Tiger-Du/ollama-gateway/internal/infra/redisx"
	"github.com/Tiger-Du/ollama-gateway/internal/infra/secrets"
	"github.com/Tiger-Du/ollama-gateway/internal/obs"
	"github.com/Tiger-Du/ollama-gateway/internal/ollama"
	"github.com/Tiger-Du/ollama-gateway/internal/ratelimit"
	"github.com/Tiger-Du/ollama-gateway/internal/retry"
)

const (
	rateLimitPrefix = "ollama-gateway:rl"
	apiKeyHeader    = "X-Api-Key"
)

type Built struct {
	Handler  http.Handler
	Metrics  *obs.Metrics
	Backend  *ollama.Client
	Shutdown func(context.Context)
}

type buildOptions struct {
	httpClient    *http.Client
	secretGetter  secrets.Getter
	metricOptions []obs.Option
}

type BuildOption func(*buildOptions)

// WithHTTPClient overrides the backend transport (tests).
func WithHTTPClient(hc *http.Client) BuildOption {
	return func(o *buildOptions) { o.httpClient = hc }
}

func WithSecretGetter(g secrets.Getter) BuildOption {
	return func(o *buildOptions) { o.secretGetter = g }
}

func WithMetricOptions(opts ...obs.Option) BuildOption {
	return func(o *buildOptions) { o.metricOptions = append(o.metricOptions, opts...) }
}

// Build wires the backend client, metrics, rate limiter and HTTP routes. The
// metric registry is private to the returned Built, so Build may run more than
// once per process.
func Build(ctx context.Context, cfg Config, logger *zap.Logger, opts ...BuildOption) (*Built, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	metrics := obs.New(nil, bo.metricOptions...)
	metrics.SetModelInfo(cfg.OllamaModel, versionOr(cfg.Version))

	clientOpts := []ollama.Option{
		ollama.WithLogger(logger.Named("ollama")),
		ollama.WithRetryOptions(retry.WithOnRetry(func(int, error, time.Duration) {
			metrics.RetryObserved("generate")
		})),
	}
	if bo.httpClient != nil {
		clientOpts = append(clientOpts, ollama.WithHTTPClient(bo.httpClient))
	}
	backend, err := ollama.New(ollama.Config{
		BaseURL: cfg.OllamaURL,
		Timeout: cfg.Timeout,
		Retry: retry.Policy{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: cfg.RetryDelay,
			Multiplier:   cfg.RetryBackoff,
		},
	}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("ollama client: %w", err)
	}

	apiOpts := []api.Option{
		api.WithDefaultModel(cfg.OllamaModel),
		api.WithLogger(logger.Named("api")),
		api.WithVersion(versionOr(cfg.Version)),
		api.WithStreaming(cfg.EnableStreaming),
	}
	if cfg.MaxContextLength > 0 {
		apiOpts = append(apiOpts, api.WithGenerateOptions(map[string]any{"num_ctx": cfg.MaxContextLength}))
	}

	var rdb *redis.Client
	if cfg.MaxRequestsPerMinute > 0 {
		var allower ratelimit.Allower
		if cfg.EnableRedis {
			rdb, err = connectRedis(ctx, cfg, bo.secretGetter)
			switch {
			case errors.Is(err, redisx.ErrUnreachable):
				logger.Warn("redis unreachable, rate limiting per instance", zap.Error(err))
			case err != nil:
				backend.Close()
				return nil, err
			default:
				allower, err = ratelimit.NewRedisFixedWindow(rdb, rateLimitPrefix, int64(cfg.MaxRequestsPerMinute), time.Minute)
				if err != nil {
					_ = rdb.Close()
					backend.Close()
					return nil, err
				}
			}
		}
		if allower == nil {
			allower = ratelimit.NewLocal(int64(cfg.MaxRequestsPerMinute), time.Minute)
		}

		byIP := ratelimit.KeyByIP
		if cfg.TrustProxyHeaders {
			byIP = ratelimit.KeyByForwardedIP
		}
		lim := ratelimit.New(allower,
			ratelimit.WithKeyFunc(ratelimit.KeyByAPIKey(apiKeyHeader, cfg.RateLimitAPIKeys, byIP)),
			ratelimit.WithLogger(logger.Named("ratelimit")),
			ratelimit.WithOnReject(func(string) { metrics.RateLimited() }),
		)
		apiOpts = append(apiOpts, api.WithChatMiddleware(lim.Wrap))
		logger.Info("rate limit enabled",
			zap.Int("per_minute", cfg.MaxRequestsPerMinute),
			zap.Bool("redis", rdb != nil),
			zap.Int("api_keys", len(cfg.RateLimitAPIKeys)),
			zap.Bool("trust_proxy_headers", cfg.TrustProxyHeaders),
		)
	}

	handler := api.New(backend, metrics, apiOpts...).Routes()

	shutdown := func(context.Context) {
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}
		backend.Close()
	}

	return &Built{Handler: handler, Metrics: metrics, Backend: backend, Shutdown: shutdown}, nil
}

func connectRedis(ctx context.Context, cfg Config, g secrets.Getter) (*redis.Client, error) {
	u, err := redisurl.Load(ctx, redisurl.Source{
		SecretARN: cfg.RedisURLSecretARN,
		URL:       cfg.RedisURL,
		Getter:    g,
	})
	if err != nil {
		return nil, err
	}
	return redisx.NewClientFromURL(ctx, u, redisx.DefaultOptions())
}

func versionOr(v string) string {
	if v == "" {
		return "dev"
	}
	return v
}
