package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Viper keys. Each one is also read from the upper-cased environment variable
// of the same name (ollama_url <- OLLAMA_URL).
const (
	KeyOllamaURL         = "ollama_url"
	KeyOllamaModel       = "ollama_model"
	KeyAPITimeout        = "api_timeout"
	KeyMaxRetries        = "max_retries"
	KeyRetryDelay        = "retry_delay"
	KeyRetryBackoff      = "retry_backoff"
	KeyMaxRequestsPerMin = "max_requests_per_minute"
	KeyRateLimitAPIKeys  = "rate_limit_api_keys"
	KeyTrustProxyHeaders = "trust_proxy_headers"
	KeyMaxContextLength  = "max_context_length"
	KeyEnableStreaming   = "enable_streaming"
	KeyEnableRedis       = "enable_redis"
	KeyRedisURL          = "redis_url"
	KeyRedisSecretARN    = "redis_url_secret_arn"
	KeyPort              = "port"
	KeyLogLevel          = "log_level"
	KeyLogStyle          = "log_style"
)

const (
	DefaultOllamaURL = "http://localhost:11434"
	DefaultModel     = "qwen2.5:7b-instruct-q4_0"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	OllamaURL   string
	OllamaModel string

	// Timeout bounds each backend call; retries get a fresh budget.
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	RetryBackoff float64

	// MaxRequestsPerMinute is 0 (off) unless configured.
	MaxRequestsPerMinute int
	RateLimitAPIKeys     []string
	TrustProxyHeaders    bool
	MaxContextLength     int
	EnableStreaming      bool

	EnableRedis       bool
	RedisURL          string
	RedisURLSecretARN string

	Port     string
	LogLevel string
	LogStyle string

	Version string
}

// NewViper returns a viper instance with defaults and env binding in place.
func NewViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault(KeyOllamaURL, DefaultOllamaURL)
	v.SetDefault(KeyOllamaModel, DefaultModel)
	v.SetDefault(KeyAPITimeout, "300")
	v.SetDefault(KeyMaxRetries, 3)
	v.SetDefault(KeyRetryDelay, "1")
	v.SetDefault(KeyRetryBackoff, 2.0)
	v.SetDefault(KeyMaxRequestsPerMin, 0)
	v.SetDefault(KeyTrustProxyHeaders, false)
	v.SetDefault(KeyMaxContextLength, 4096)
	v.SetDefault(KeyEnableStreaming, true)
	v.SetDefault(KeyEnableRedis, false)
	v.SetDefault(KeyPort, "8000")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogStyle, "json")
	return v
}

// LoadDotEnv loads .env files into the process environment. Missing files are
// not an error; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func LoadConfig(v *viper.Viper) (Config, error) {
	timeout, err := seconds(v.GetString(KeyAPITimeout))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, KeyAPITimeout, err)
	}
	delay, err := seconds(v.GetString(KeyRetryDelay))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, KeyRetryDelay, err)
	}

	cfg := Config{
		OllamaURL:            strings.TrimSpace(v.GetString(KeyOllamaURL)),
		OllamaModel:          strings.TrimSpace(v.GetString(KeyOllamaModel)),
		Timeout:              timeout,
		MaxRetries:           v.GetInt(KeyMaxRetries),
		RetryDelay:           delay,
		RetryBackoff:         v.GetFloat64(KeyRetryBackoff),
		MaxRequestsPerMinute: v.GetInt(KeyMaxRequestsPerMin),
		RateLimitAPIKeys:     splitList(v.GetString(KeyRateLimitAPIKeys)),
		TrustProxyHeaders:    v.GetBool(KeyTrustProxyHeaders),
		MaxContextLength:     v.GetInt(KeyMaxContextLength),
		EnableStreaming:      v.GetBool(KeyEnableStreaming),
		EnableRedis:          v.GetBool(KeyEnableRedis),
		RedisURL:             v.GetString(KeyRedisURL),
		RedisURLSecretARN:    v.GetString(KeyRedisSecretARN),
		Port:                 strings.TrimPrefix(v.GetString(KeyPort), ":"),
		LogLevel:             v.GetString(KeyLogLevel),
		LogStyle:             v.GetString(KeyLogStyle),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.OllamaURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("OLLAMA_URL must be an absolute URL, got %q", c.OllamaURL))
	}
	if c.OllamaModel == "" {
		errs = append(errs, errors.New("OLLAMA_MODEL is required"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("API_TIMEOUT must be > 0"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("MAX_RETRIES must be >= 0"))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, errors.New("RETRY_DELAY must be >= 0"))
	}
	if c.RetryBackoff < 1 {
		errs = append(errs, errors.New("RETRY_BACKOFF must be >= 1"))
	}
	if c.MaxRequestsPerMinute < 0 {
		errs = append(errs, errors.New("MAX_REQUESTS_PER_MINUTE must be >= 0"))
	}
	if c.EnableRedis && c.RedisURL == "" && c.RedisURLSecretARN == "" {
		errs = append(errs, errors.New("REDIS_URL or REDIS_URL_SECRET_ARN is required when ENABLE_REDIS is true"))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c Config) Addr() string { return ":" + c.Port }

// splitList reads a comma-separated env value.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// seconds accepts a bare number of seconds ("300", "0.5") or a Go duration ("5m").
func seconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}
