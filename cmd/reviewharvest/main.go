package main

import (
	"context"
	"errors"
	"os"

	"reviewharvest/cmd/reviewharvest/commands"
	"reviewharvest/lib/serviceutil"
	"reviewharvest/lib/telemetry"
)

func main() {
	ctx := serviceutil.SignalContext()

	tel, err := telemetry.SetupFromEnv(ctx, "reviewharvest")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		serviceutil.Fatal("setup telemetry", err)
	}
	if err == nil {
		defer tel.Shutdown(context.Background())
	}

	commands.ExecuteContext(ctx)
}
