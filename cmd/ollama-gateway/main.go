// Command ollama-gateway runs the monitoring gateway and its operator tools.
package main

import (
	"context"
	"os"

	"github.com/Tiger-Du/ollama-gateway/internal/cli"
)

// Set by the release build: -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cli.Version = version
	if err := cli.Execute(context.Background(), os.Args[1:]); err != nil {
		os.Exit(1)
	}
}
