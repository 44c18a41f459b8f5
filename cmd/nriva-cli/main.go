package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"nriva-archiver/cmd/nriva-cli/commands"
	"nriva-archiver/lib/telemetry"
)

func main() {
	// a scraping batch can run for hours; an interrupt should stop it
	// between operations, not mid-write
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := telemetry.SetupFromEnv(ctx, "nriva-cli")
	if err == nil {
		defer t.Shutdown(context.Background())
	}
	commands.ExecuteContext(ctx)
}
