package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiger-Du/ollama-gateway/internal/app"
	"github.com/Tiger-Du/ollama-gateway/internal/ollama"
	"github.com/Tiger-Du/ollama-gateway/internal/retry"
)

type modelHint struct {
	sizeGB      float64
	recommended bool
	note        string
}

// modelHints are approximate footprints for a host with about 6GB of RAM.
var modelHints = map[string]modelHint{
	"qwen2.5:0.5b":               {0.5, false, "tiny model for very tight memory"},
	"qwen2.5:1.5b":               {1.0, false, "light model"},
	"qwen2.5:3b":                 {1.9, false, "mid-size model"},
	"qwen2.5:7b-instruct-q4_0":   {4.4, true, "7B instruct, q4_0 quantization (default)"},
	"qwen2.5:7b-instruct-q4_K_M": {4.7, true, "7B instruct, q4_K_M, better quality"},
	"qwen2.5:7b-instruct-q5_K_M": {5.4, true, "7B instruct, q5_K_M, best quality"},
}

const gib = 1 << 30

func newModelsCmd(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage models on the Ollama backend",
	}
	cmd.AddCommand(newModelsListCmd(ro), newModelsPullCmd(ro))
	return cmd
}

func (ro *rootOptions) backend(timeout time.Duration) (*ollama.Client, error) {
	return ollama.New(ollama.Config{
		BaseURL: ro.v.GetString(app.KeyOllamaURL),
		Timeout: timeout,
		Retry:   retry.Policy{MaxRetries: 0, Multiplier: 1},
	})
}

func newModelsListCmd(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List models installed on the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrinter(cmd.OutOrStdout())
			c, err := ro.backend(10 * time.Second)
			if err != nil {
				return err
			}
			defer c.Close()

			list, err := c.ListModels(cmd.Context())
			if err != nil {
				p.fail("cannot reach Ollama at %s: %v", c.BaseURL(), err)
				return err
			}
			if len(list.Models) == 0 {
				p.line("No models installed")
				return nil
			}
			p.header("Installed models:")
			for _, m := range list.Models {
				p.line("  - %s (%.2f GB)", m.Name, float64(m.Size)/gib)
			}
			return nil
		},
	}
}

func newModelsPullCmd(ro *rootOptions) *cobra.Command {
	var (
		verify  bool
		force   bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "pull [model]",
		Short: "Download a model to the backend",
		Long: `Download a model to the backend. Without an argument the configured
default model (OLLAMA_MODEL) is pulled.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrinter(cmd.OutOrStdout())
			name := ro.v.GetString(app.KeyOllamaModel)
			if len(args) == 1 {
				name = args[0]
			}

			c, err := ro.backend(timeout)
			if err != nil {
				return err
			}
			defer c.Close()

			p.header("Pulling model: %s", name)
			if h, ok := modelHints[name]; ok {
				p.dim("  approx. size: %.1f GB, %s", h.sizeGB, h.note)
				if !h.recommended {
					p.dim("  below the recommended size for the default deployment")
				}
			}

			installed := false
			if !force {
				list, err := c.ListModels(cmd.Context())
				if err != nil {
					p.fail("cannot reach Ollama at %s: %v", c.BaseURL(), err)
					return err
				}
				installed = list.Has(name)
			}

			if installed {
				p.ok("Model %s already installed", name)
			} else {
				if err := c.PullModel(cmd.Context(), name); err != nil {
					p.fail("pull failed: %v", err)
					return err
				}
				p.ok("Model %s downloaded", name)
			}

			if verify {
				res, err := c.Generate(cmd.Context(), ollama.GenerateRequest{Model: name, Prompt: "Hello!"})
				if err != nil {
					p.fail("verification failed: %v", err)
					return err
				}
				p.ok("Model works: %s", truncate(res.Response, 100))
			}
			p.dim("Set OLLAMA_MODEL=%s to make it the default", name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", true, "send a test prompt after pulling")
	cmd.Flags().BoolVar(&force, "force", false, "pull even if the model is already installed")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "pull timeout")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
