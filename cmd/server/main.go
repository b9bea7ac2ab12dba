package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/zeusync/refmirror/internal/config"
	"github.com/zeusync/refmirror/internal/core/observability/log"
	"github.com/zeusync/refmirror/internal/injector"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		envFile    = flag.String("env-file", ".env", "path to a .env file, loaded when present")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *envFile); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// run serves until ctx is done. The mirror section of the config is not
// used here: the server relays store events and never builds a mirror.
func run(ctx context.Context, configPath, envFile string) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	srv, err := injector.InitializeServer(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Provide().Sync() }()

	return srv.Run(ctx)
}
