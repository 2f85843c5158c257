package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiger-Du/ollama-gateway/internal/loadgen"
)

type clientOptions struct {
	apiURL  string
	timeout time.Duration
}

func (o *clientOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.apiURL, "api-url", "http://localhost:8000", "gateway base URL")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 300*time.Second, "per-request timeout")
}

func newWarmupCmd(ro *rootOptions) *cobra.Command {
	var (
		co     clientOptions
		prompt string
		model  string
	)
	cmd := &cobra.Command{
		Use:   "warmup",
		Short: "Load the model into backend memory through a running gateway",
		Long: `Check /health and /health/ollama, then send one /chat request so the
backend loads the model before real traffic arrives.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrinter(cmd.OutOrStdout())
			p.header("Warming up model: %s", model)
			p.dim("API URL: %s", co.apiURL)

			c := loadgen.NewClient(co.apiURL, co.timeout)
			reply, err := loadgen.Warmup(cmd.Context(), c, model, prompt, func(s loadgen.WarmupStep) {
				switch s {
				case loadgen.StepHealth:
					p.ok("API is healthy")
				case loadgen.StepBackend:
					p.ok("Ollama is healthy")
				}
			})
			if err != nil {
				p.fail("%v", err)
				return err
			}
			p.ok("Warmup successful")
			p.line("  Response time: %.2fms", reply.DurationMs)
			p.line("  Model: %s", reply.Model)
			return nil
		},
	}
	co.register(cmd)
	cmd.Flags().StringVar(&prompt, "prompt", "Hello", "warmup prompt")
	cmd.Flags().StringVar(&model, "warmup-model", "", "model to load (default: the gateway's)")
	return cmd
}
