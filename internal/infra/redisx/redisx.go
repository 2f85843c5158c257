package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnreachable marks a well-formed URL whose server did not answer PING.
var ErrUnreachable = errors.New("redis unreachable")

type Options struct {
	PoolSize    int
	Timeout     time.Duration // dial, read and write
	PingTimeout time.Duration
}

// DefaultOptions keeps Redis well inside the limiter's per-request budget.
func DefaultOptions() Options {
	return Options{
		PoolSize:    50,
		Timeout:     500 * time.Millisecond,
		PingTimeout: time.Second,
	}
}

// NewClientFromURL accepts redis:// and rediss:// URLs and pings before returning.
func NewClientFromURL(ctx context.Context, redisURL string, o Options) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if o.Timeout > 0 {
		opt.ReadTimeout = o.Timeout
		opt.WriteTimeout = o.Timeout
		opt.DialTimeout = o.Timeout
	}
	if o.PoolSize > 0 {
		opt.PoolSize = o.PoolSize
	}

	rdb := redis.NewClient(opt)

	if o.PingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.PingTimeout)
		defer cancel()
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w: %w", opt.Addr, ErrUnreachable, err)
	}
	return rdb, nil
}
