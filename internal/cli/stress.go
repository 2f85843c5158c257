package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiger-Du/ollama-gateway/internal/loadgen"
)

func newStressCmd(ro *rootOptions) *cobra.Command {
	var (
		co          clientOptions
		requests    int
		concurrency int
		prompt      string
		minSuccess  float64
	)
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Load-test /chat on a running gateway",
		Example: `  ollama-gateway stress -n 50 -c 5 --prompt "Hello, how are you?"
  ollama-gateway stress --api-url http://gateway:8000 -n 200 -c 20 --min-success 0.95`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrinter(cmd.OutOrStdout())
			p.header("Starting stress test with %d requests, concurrency: %d", requests, concurrency)

			c := loadgen.NewClient(co.apiURL, co.timeout)
			results, err := loadgen.Run(cmd.Context(), c.ChatTarget(prompt, ""), loadgen.Config{
				Requests:    requests,
				Concurrency: concurrency,
				Progress:    p.progress,
			})
			if err != nil && len(results) == 0 {
				return err
			}

			s := loadgen.Summarize(results)
			printSummary(p, s)

			if err != nil {
				return err
			}
			if rate := float64(s.Succeeded) / float64(s.Total); rate < minSuccess {
				return fmt.Errorf("success rate %.2f below --min-success %.2f", rate, minSuccess)
			}
			return nil
		},
	}
	co.register(cmd)
	fs := cmd.Flags()
	fs.IntVarP(&requests, "requests", "n", 100, "total requests")
	fs.IntVarP(&concurrency, "concurrency", "c", 10, "requests in flight")
	fs.StringVar(&prompt, "prompt", "What is the meaning of life?", "prompt sent with every request")
	fs.Float64Var(&minSuccess, "min-success", 0, "fail unless this fraction of requests succeeds")
	return cmd
}

func printSummary(p *printer, s loadgen.Summary) {
	p.line("")
	p.header("=== Stress Test Results ===")
	p.line("Total requests: %d", s.Total)
	p.ok("Successful: %d", s.Succeeded)
	if s.Failed > 0 {
		p.fail("Failed: %d", s.Failed)
	} else {
		p.line("  Failed: 0")
	}
	if s.Succeeded == 0 {
		return
	}

	p.line("")
	p.header("Latency Statistics (seconds):")
	for _, row := range []struct {
		name string
		d    time.Duration
	}{
		{"Min", s.Min},
		{"Max", s.Max},
		{"Mean", s.Mean},
		{"Median", s.Median},
		{"P95", s.P95},
	} {
		p.line("  %-7s %.2f", row.name+":", row.d.Seconds())
	}
	if s.Succeeded > 1 {
		p.line("  %-7s %.2f", "StdDev:", s.StdDev.Seconds())
	}
}
