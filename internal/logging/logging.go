// Package logging configures the process-wide slog logger. It is a thin,
// opinionated wrapper; in this module only the auhalctl CLI logs, through
// the global slog functions, using the handler installed here.
package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
)

// Configure sets slog's default logger from a level string
// ("none"/"error"/"warn"/"info"/"debug") and an optional log file path.
// An empty logFile logs text to stdout; a non-empty path logs JSON to that
// file. The returned *os.File is non-nil only when a file was opened, so
// callers can defer its Close.
func Configure(level string, logFile string, opts slog.HandlerOptions) (*os.File, error) {
	if level == "none" {
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return nil, nil
	}

	switch level {
	case "error":
		opts.Level = slog.LevelError
	case "warn":
		opts.Level = slog.LevelWarn
	case "info":
		opts.Level = slog.LevelInfo
	case "debug":
		opts.Level = slog.LevelDebug
	default:
		return nil, errors.New("logging: unrecognised level " + level)
	}

	if logFile == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &opts)))
		return nil, nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(f, &opts)))
	return f, nil
}
