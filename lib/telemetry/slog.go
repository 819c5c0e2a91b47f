package telemetry

import (
	"log/slog"
	"os"
)

// InitSlog installs the default text logger. verbose enables debug logging,
// which also turns on request/response dumps in instrumented resty clients.
func InitSlog(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
