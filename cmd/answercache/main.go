package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yungbote/answercache/internal/app"
	"github.com/yungbote/answercache/internal/platform/shutdown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start: %v\n", err)
		return 1
	}
	defer a.Close()

	if err := a.HealthCheck(ctx); err != nil {
		a.Log.Warn("dependencies not ready at startup", "error", err)
	}
	if err := a.Run(ctx); err != nil {
		a.Log.Error("server exited", "error", err)
		return 1
	}
	a.Log.Info("shutdown complete")
	return 0
}
