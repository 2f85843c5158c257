// Package cli is the ollama-gateway command line.
//
//	ollama-gateway serve                 # run the gateway
//	ollama-gateway warmup                # load the model through a running gateway
//	ollama-gateway stress -n 50 -c 5     # load-test /chat
//	ollama-gateway models list           # models installed on the backend
//	ollama-gateway models pull <name>    # download a model to the backend
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Tiger-Du/ollama-gateway/internal/app"
	"github.com/Tiger-Du/ollama-gateway/internal/logx"
)

// Version is stamped by main.
var Version = "dev"

type rootOptions struct {
	v       *viper.Viper
	envFile string
}

// Execute runs the root command and reports the error on stderr.
func Execute(ctx context.Context, args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func newRootCmd() *cobra.Command {
	ro := &rootOptions{v: app.NewViper()}

	cmd := &cobra.Command{
		Use:           "ollama-gateway",
		Short:         "Monitoring gateway in front of an Ollama server",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.LoadDotEnv(ro.envFile)
		},
	}

	fs := cmd.PersistentFlags()
	fs.StringVar(&ro.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	fs.String("ollama-url", app.DefaultOllamaURL, "Ollama base URL (OLLAMA_URL)")
	fs.String("model", app.DefaultModel, "default model (OLLAMA_MODEL)")
	fs.String("log-level", "info", "log level: debug|info|warn|error (LOG_LEVEL)")
	fs.String("log-style", "json", "log style: json|terminal|noop (LOG_STYLE)")
	mustBindPFlag(ro.v, app.KeyOllamaURL, fs.Lookup("ollama-url"))
	mustBindPFlag(ro.v, app.KeyOllamaModel, fs.Lookup("model"))
	mustBindPFlag(ro.v, app.KeyLogLevel, fs.Lookup("log-level"))
	mustBindPFlag(ro.v, app.KeyLogStyle, fs.Lookup("log-style"))

	cmd.AddCommand(
		newServeCmd(ro),
		newWarmupCmd(ro),
		newStressCmd(ro),
		newModelsCmd(ro),
	)
	return cmd
}

func mustBindPFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

func (ro *rootOptions) logger() (*zap.Logger, error) {
	return logx.New(logx.Config{
		Level: ro.v.GetString(app.KeyLogLevel),
		Style: logx.Style(ro.v.GetString(app.KeyLogStyle)),
	})
}
