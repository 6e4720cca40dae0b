// Package logging builds the gateway's single slog.Logger.
package logging

import (
	"log/slog"
	"os"
)

// New returns a JSON-handler logger writing to stdout, built once at
// process start and threaded through every component that logs.
func New() *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}
