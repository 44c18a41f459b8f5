package telemetry

import (
	"log/slog"
	"os"
)

// InitSlog installs the process-wide slog handler. Pass verbose to get
// debug-level output, including per-request logging from the resty hooks.
func InitSlog(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
