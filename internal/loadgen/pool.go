// Package loadgen drives the gateway from the outside: a bounded worker pool
// for stress runs and a warmup sequence that loads the model before traffic.
package loadgen

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tiger-Du/ollama-gateway/internal/timer"
)

// Target performs one request and reports its HTTP status.
type Target func(ctx context.Context) (status int, err error)

type Result struct {
	Seq    int
	Status int
	Err    error

	QueueWait time.Duration
	ExecTime  time.Duration
}

func (r Result) OK() bool { return r.Err == nil && r.Status == http.StatusOK }

type job struct {
	seq        int
	enqueuedAt time.Time
}

type Config struct {
	Requests    int
	Concurrency int

	// Progress is called from worker goroutines after each completed request.
	Progress func(done, total int)
	Logger   *zap.Logger
}

var ErrBadConfig = errors.New("loadgen: requests and concurrency must be > 0")

// Run sends cfg.Requests calls to target with at most cfg.Concurrency in
// flight. Results are indexed by sequence number. Requests not started before
// ctx is done carry ctx.Err().
func Run(ctx context.Context, target Target, cfg Config) ([]Result, error) {
	if cfg.Requests <= 0 || cfg.Concurrency <= 0 {
		return nil, ErrBadConfig
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	results := make([]Result, cfg.Requests)
	for i := range results {
		results[i].Seq = i
	}
	jobs := make(chan job, cfg.Concurrency)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for i := range cfg.Requests {
			select {
			case jobs <- job{seq: i, enqueuedAt: time.Now()}:
			case <-gctx.Done():
				for j := i; j < cfg.Requests; j++ {
					results[j].Err = gctx.Err()
				}
				return nil
			}
		}
		return nil
	})

	for w := range min(cfg.Concurrency, cfg.Requests) {
		g.Go(func() error {
			for j := range jobs {
				res := &results[j.seq]
				res.QueueWait = time.Since(j.enqueuedAt)

				if err := ctx.Err(); err != nil {
					res.Err = err
					continue
				}

				var status int
				tm, err := timer.Measure(func() error {
					var err error
					status, err = target(ctx)
					return err
				})
				res.Status, res.Err, res.ExecTime = status, err, tm.Duration()

				if !res.OK() {
					logger.Debug("request failed", zap.Int("worker", w), zap.Int("seq", j.seq), zap.Int("status", status), zap.Error(err))
				}
				n := done.Add(1)
				if cfg.Progress != nil {
					cfg.Progress(int(n), cfg.Requests)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
