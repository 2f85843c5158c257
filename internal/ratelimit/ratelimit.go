// Package ratelimit caps generation requests per client per minute.
//
// Two Allowers are provided: a Redis fixed window shared by every replica, and
// an in-process token bucket for single-instance deployments.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// storeTimeout caps the limiter's share of a request's latency.
const storeTimeout = 150 * time.Millisecond

// ErrUnavailable is returned by an Allower whose store cannot be reached.
var ErrUnavailable = errors.New("rate limiter unavailable")

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	Reset     time.Duration // until the current window/bucket refills
}

type Allower interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

type KeyFunc func(r *http.Request) (key string, ok bool)

type Middleware struct {
	allower  Allower
	keyFn    KeyFunc
	failOpen bool
	logger   *zap.Logger
	onReject func(key string)
}

type Option func(*Middleware)

func WithKeyFunc(fn KeyFunc) Option { return func(m *Middleware) { m.keyFn = fn } }

// WithFailClosed rejects requests with 503 when the store is down.
func WithFailClosed() Option { return func(m *Middleware) { m.failOpen = false } }

func WithLogger(l *zap.Logger) Option {
	return func(m *Middleware) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithOnReject is called once per 429.
func WithOnReject(fn func(key string)) Option { return func(m *Middleware) { m.onReject = fn } }

func New(a Allower, opts ...Option) *Middleware {
	if a == nil {
		panic("ratelimit: allower must not be nil")
	}
	m := &Middleware{
		allower:  a,
		keyFn:    KeyByIP,
		failOpen: true,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := m.keyFn(r)
		if !ok || key == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
		d, err := m.allower.Allow(ctx, key)
		cancel()
		if err != nil {
			m.logger.Warn("rate limiter error", zap.Bool("fail_open", m.failOpen), zap.Error(err))
			if m.failOpen {
				next.ServeHTTP(w, r)
				return
			}
			writeDetail(w, http.StatusServiceUnavailable, ErrUnavailable.Error())
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(max(0, d.Remaining), 10))
		if d.Reset > 0 {
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(ceilSeconds(d.Reset), 10))
		}

		if !d.Allowed {
			w.Header().Set("Retry-After", strconv.FormatInt(max(1, ceilSeconds(d.Reset)), 10))
			if m.onReject != nil {
				m.onReject(key)
			}
			m.logger.Info("rate limited", zap.String("key", key))
			writeDetail(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func ceilSeconds(d time.Duration) int64 {
	ms := d.Milliseconds()
	return (ms + 999) / 1000
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"detail":` + strconv.Quote(detail) + "}\n"))
}

// KeyByIP keys on the TCP peer address. Client-supplied forwarding headers
// are ignored.
func KeyByIP(r *http.Request) (string, bool) {
	ip := remoteIP(r)
	if ip == "" {
		return "", false
	}
	return "ip:" + ip, true
}

// KeyByForwardedIP keys on X-Forwarded-For or X-Real-IP, then the peer
// address. Only use it behind a proxy that overwrites those headers.
func KeyByForwardedIP(r *http.Request) (string, bool) {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return "ip:" + ip, true
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xrip) != nil {
		return "ip:" + xrip, true
	}
	return KeyByIP(r)
}

// KeyByAPIKey keys on header when its value is one of keys. Unknown or
// missing keys fall through to fallback, so rotating made-up keys does not
// open a fresh bucket. A nil fallback leaves such requests unlimited.
func KeyByAPIKey(header string, keys []string, fallback KeyFunc) KeyFunc {
	known := make(map[[sha256.Size]byte]struct{}, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			known[sha256.Sum256([]byte(k))] = struct{}{}
		}
	}
	return func(r *http.Request) (string, bool) {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			sum := sha256.Sum256([]byte(v))
			if _, ok := known[sum]; ok {
				return "key:" + hex.EncodeToString(sum[:6]), true
			}
		}
		if fallback == nil {
			return "", false
		}
		return fallback(r)
	}
}

func remoteIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && net.ParseIP(host) != nil {
		return host
	}
	if net.ParseIP(addr) != nil {
		return addr
	}
	return ""
}
