package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"pintsurf/internal/cli"
)

func main() {
	// Cancelling on a signal lets deferred cleanup remove the tool's
	// scratch directory.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
