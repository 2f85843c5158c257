package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tiger-Du/ollama-gateway/internal/app"
	"github.com/Tiger-Du/ollama-gateway/internal/ollama"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		Long: `Serve /chat, /chat/structured, /health, /health/ollama, /models and /metrics.

Configuration comes from flags, then the environment (and .env), then defaults.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ro, nil)
		},
	}
	fs := cmd.Flags()
	fs.String("port", "8000", "listen port (PORT)")
	fs.Int("max-retries", 3, "retries per generation (MAX_RETRIES)")
	fs.Int("max-requests-per-minute", 0, "per-client limit on /chat, 0 disables (MAX_REQUESTS_PER_MINUTE)")
	mustBindPFlag(ro.v, app.KeyPort, fs.Lookup("port"))
	mustBindPFlag(ro.v, app.KeyMaxRetries, fs.Lookup("max-retries"))
	mustBindPFlag(ro.v, app.KeyMaxRequestsPerMin, fs.Lookup("max-requests-per-minute"))
	return cmd
}

// runServe blocks until ctx is canceled or a signal arrives. A nil ln listens
// on the configured port.
func runServe(ctx context.Context, ro *rootOptions, ln net.Listener) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig(ro.v)
	if err != nil {
		return err
	}
	cfg.Version = Version

	logger, err := ro.logger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}

	probeBackend(ctx, logger, built.Backend)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           built.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if ln == nil {
		if ln, err = net.Listen("tcp", srv.Addr); err != nil {
			built.Shutdown(ctx)
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("ollama_url", cfg.OllamaURL),
			zap.String("model", cfg.OllamaModel),
			zap.String("version", Version),
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		built.Shutdown(shutdownCtx)
		return err
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

// probeBackend logs backend reachability at startup; it never blocks serving.
func probeBackend(ctx context.Context, logger *zap.Logger, c *ollama.Client) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status, err := c.Probe(ctx)
	if status != ollama.Healthy {
		logger.Warn("ollama not ready at startup", zap.String("status", status.String()), zap.Error(err))
		return
	}
	logger.Info("ollama reachable", zap.String("url", c.BaseURL()))
}
