package serviceutil

import (
	"log/slog"
	"os"
)

// Fatal logs an unrecoverable startup error and exits. Only for use from
// cmd entrypoints; library code returns errors.
func Fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
