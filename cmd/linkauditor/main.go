// Command linkauditor runs the link-audit service: the ingress HTTP
// API, the worker pool draining the priority queue, and the recurring
// Google Sheets scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/domainlink/linkauditor/internal/app"
	"github.com/domainlink/linkauditor/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (optional; env vars and defaults apply otherwise)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}

	return a.Run(ctx)
}
