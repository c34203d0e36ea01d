// Package main wires the arena server process lifecycle.
//
// It reads config from env and runs the arena until shutdown.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/openagora/arena/internal/arena/app"
	"github.com/openagora/arena/internal/platform/config"
)

func main() {
	log.SetPrefix("[ARENA] ")

	cfg, err := app.LoadEnv()
	if err != nil {
		config.Exitf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg); err != nil {
		config.Exitf("failed to serve: %v", err)
	}
}
